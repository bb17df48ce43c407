package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

// Engine enforces the request state machine. It is the sole writer of
// status; every transition that depends on prior state goes through the
// store's conditional updates, so it never blocks waiting for a competing
// caller to decide.
type Engine struct {
	Store  storage.RequestStore
	Logger *slog.Logger
}

func NewEngine(store storage.RequestStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: store, Logger: logger}
}

// Create registers a new pending request. All fields are required and the
// location must be a finite coordinate pair.
func (e *Engine) Create(ctx context.Context, customerID, vehicleType, description string, lat, lng float64) (*models.Request, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(vehicleType) == "" || strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: customer id, vehicle type and description are required", ErrInvalidInput)
	}
	if !geo.ValidCoord(lat, lng) {
		return nil, fmt.Errorf("%w: invalid location coordinates", ErrInvalidInput)
	}
	now := time.Now().UTC()
	r := &models.Request{
		ID:               uuid.NewString(),
		CustomerID:       customerID,
		VehicleType:      vehicleType,
		Description:      description,
		CustomerLocation: models.Coord{Lat: geo.Round6(lat), Lng: geo.Round6(lng)},
		Status:           models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	e.Logger.Info("request created", "request_id", r.ID, "customer_id", customerID, "vehicle_type", vehicleType)
	return r, nil
}

// Accept binds a provider to a pending request. The transition and the
// status check are one atomic conditional write: of N concurrent accepts
// exactly one succeeds and the rest get ErrConflict.
func (e *Engine) Accept(ctx context.Context, requestID, providerID string, lat, lng float64) (*models.Request, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("%w: provider id is required", ErrInvalidInput)
	}
	if !geo.ValidCoord(lat, lng) {
		return nil, fmt.Errorf("%w: invalid provider coordinates", ErrInvalidInput)
	}
	r, err := e.Store.Accept(ctx, requestID, providerID, geo.Round6(lat), geo.Round6(lng))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, storage.ErrNotPending):
			observability.AcceptConflicts.Inc()
			e.Logger.Info("accept lost race", "request_id", requestID, "provider_id", providerID)
			return nil, ErrConflict
		}
		return nil, err
	}
	observability.RequestsAccepted.Inc()
	e.Logger.Info("request accepted", "request_id", requestID, "provider_id", providerID)
	return r, nil
}

// Complete records the customer's rating and feedback and moves the
// request to completed. Only valid from accepted.
func (e *Engine) Complete(ctx context.Context, requestID string, rating int, feedback string) (*models.Request, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be an integer between 1 and 5", ErrInvalidInput)
	}
	r, err := e.Store.Complete(ctx, requestID, rating, feedback)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, storage.ErrWrongStatus):
			return nil, ErrInvalidState
		}
		return nil, err
	}
	observability.RequestsClosed.WithLabelValues(string(models.StatusCompleted)).Inc()
	e.Logger.Info("request completed", "request_id", requestID, "rating", rating)
	return r, nil
}

// ConfirmClosure is the provider's acknowledgement of a completed request.
// Terminal; closed requests are retained as history.
func (e *Engine) ConfirmClosure(ctx context.Context, requestID string) (*models.Request, error) {
	r, err := e.Store.Close(ctx, requestID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, storage.ErrWrongStatus):
			return nil, ErrInvalidState
		}
		return nil, err
	}
	observability.RequestsClosed.WithLabelValues(string(models.StatusClosed)).Inc()
	e.Logger.Info("request closed", "request_id", requestID, "provider_id", r.ProviderID)
	return r, nil
}
