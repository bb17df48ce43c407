package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadside-dispatch/internal/identity"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/otp"
	"github.com/example/roadside-dispatch/internal/storage"
	"github.com/example/roadside-dispatch/internal/tracker"
)

// PaymentHolder is the slice of the payments client the gateway uses:
// hold the callout fee at accept, capture it at closure.
type PaymentHolder interface {
	HoldCalloutFee(ctx context.Context, amountCents int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
}

// Server is the dispatch gateway: it translates HTTP requests into engine
// and tracker calls and engine results into responses.
type Server struct {
	Engine  *lifecycle.Engine
	Tracker *tracker.Tracker
	Store   storage.RequestStore
	Gate    identity.Gate
	OTP     otp.Store
	WSReg   *notify.WSRegistry
	Webhook *notify.WebhookNotifier

	Payments        PaymentHolder
	CalloutFeeCents int64
	FeeCurrency     string

	logger *slog.Logger
	mux    *mux.Router

	holdMu sync.Mutex
	holds  map[string]string // request id -> payment intent id
}

func NewServer(engine *lifecycle.Engine, trk *tracker.Tracker, store storage.RequestStore, gate identity.Gate, otpStore otp.Store, wsReg *notify.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = identity.AllowAll{}
	}
	s := &Server{
		Engine:  engine,
		Tracker: trk,
		Store:   store,
		Gate:    gate,
		OTP:     otpStore,
		WSReg:   wsReg,
		logger:  logger,
		mux:     mux.NewRouter(),
		holds:   make(map[string]string),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", s.handleCreate).Methods("POST")
	api.HandleFunc("/requests/pending", s.handleListPending).Methods("GET")
	api.HandleFunc("/requests/customer/{customerId}", s.handleListByCustomer).Methods("GET")
	api.HandleFunc("/requests/customer/{customerId}/completed", s.handleCompletedForCustomer).Methods("GET")
	api.HandleFunc("/requests/provider/{providerId}/active", s.handleActiveForProvider).Methods("GET")
	api.HandleFunc("/requests/provider/{providerId}/completed", s.handleCompletedForProvider).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGet).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("PUT")
	api.HandleFunc("/requests/{id}/location", s.handleUpdateLocation).Methods("PUT")
	api.HandleFunc("/requests/{id}/complete", s.handleComplete).Methods("PUT")
	api.HandleFunc("/requests/{id}/confirm", s.handleConfirmClosure).Methods("PUT")

	api.HandleFunc("/auth/otp/send", s.handleSendOTP).Methods("POST")
	api.HandleFunc("/auth/otp/verify", s.handleVerifyOTP).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/requests/{id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{}

// handleWS subscribes the caller to live snapshots of one request; each
// location report and status change is pushed over the socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Store.Get(r.Context(), id); err != nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	if s.WSReg != nil {
		s.WSReg.Add(id, conn)
	}
}
