package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

// WebhookNotifier posts status-change events to a configured endpoint so
// an external app backend (push service, CRM) can react without polling.
// Delivery is best-effort; a failed post never blocks a transition.
type WebhookNotifier struct {
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewWebhookNotifier(endpoint string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

type statusEvent struct {
	Event     string          `json:"event"`
	Request   *models.Request `json:"request"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// StatusChanged posts the full updated request under an event name like
// "request.accepted".
func (n *WebhookNotifier) StatusChanged(event string, r *models.Request) {
	if n == nil || n.Endpoint == "" {
		return
	}
	b, err := json.Marshal(statusEvent{Event: event, Request: r, EmittedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	resp, err := n.Client.Post(n.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		n.Logger.Warn("status webhook post failed", "event", event, "request_id", r.ID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.Logger.Warn("status webhook rejected", "event", event, "request_id", r.ID, "status", resp.StatusCode)
	}
}
