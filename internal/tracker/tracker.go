package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

// Publisher is the optional Kafka side-channel for location reports.
type Publisher interface {
	PublishReport(report models.LocationReport) error
}

// Watcher receives live snapshots for subscribers of a request.
type Watcher interface {
	Broadcast(requestID string, r *models.Request)
}

// Tracker attaches periodic provider position reports to a request. It is
// sequenced after assignment but independent of the accept/complete
// transitions: a plain field write, not a conditional one. A report that
// arrives after the request left accepted is applied unchanged; callers
// must tolerate such stale writes.
type Tracker struct {
	Store     storage.RequestStore
	Publisher Publisher
	Watchers  Watcher
	Logger    *slog.Logger
}

func New(store storage.RequestStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{Store: store, Logger: logger}
}

// Report rounds the position to six decimals, persists it, and fans the
// updated snapshot out to Kafka and any WebSocket watchers, best-effort.
func (t *Tracker) Report(ctx context.Context, requestID string, lat, lng float64) (*models.Request, error) {
	if !geo.ValidCoord(lat, lng) {
		return nil, fmt.Errorf("%w: invalid location coordinates", lifecycle.ErrInvalidInput)
	}
	lat, lng = geo.Round6(lat), geo.Round6(lng)
	r, err := t.Store.SetProviderLocation(ctx, requestID, lat, lng)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, lifecycle.ErrNotFound
		}
		return nil, err
	}
	observability.LocationReports.Inc()

	if t.Publisher != nil {
		report := models.LocationReport{
			RequestID:  requestID,
			ProviderID: r.ProviderID,
			Loc:        models.Coord{Lat: lat, Lng: lng},
			ReportedAt: time.Now().UTC(),
		}
		if err := t.Publisher.PublishReport(report); err != nil {
			t.Logger.Warn("location report publish failed", "request_id", requestID, "error", err)
		}
	}
	if t.Watchers != nil {
		t.Watchers.Broadcast(requestID, r)
	}
	return r, nil
}
