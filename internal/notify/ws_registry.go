package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/roadside-dispatch/internal/models"
)

// wsSession wraps one connected tracking client. gorilla connections allow
// a single concurrent writer, hence the per-session mutex.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(r)
}

// WSRegistry holds live-tracking sessions keyed by request id. Customers
// watching an active request get each location report and status change
// pushed instead of polling for it.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string][]*wsSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string][]*wsSession), logger: logger}
}

func (r *WSRegistry) Add(requestID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[requestID] = append(r.sessions[requestID], &wsSession{conn: conn})
}

// Broadcast pushes the request snapshot to every watcher. Dead sessions
// are dropped on write failure.
func (r *WSRegistry) Broadcast(requestID string, req *models.Request) {
	r.mu.RLock()
	watchers := r.sessions[requestID]
	r.mu.RUnlock()
	if len(watchers) == 0 {
		return
	}
	var dead []*wsSession
	for _, s := range watchers {
		if err := s.send(req); err != nil {
			r.logger.Debug("ws send failed, dropping session", "request_id", requestID, "error", err)
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.sessions[requestID][:0]
	for _, s := range r.sessions[requestID] {
		drop := false
		for _, d := range dead {
			if s == d {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.sessions, requestID)
		return
	}
	r.sessions[requestID] = kept
}
