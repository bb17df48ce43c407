package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

var (
	// ErrNotFound means the request id does not exist.
	ErrNotFound = errors.New("request not found")
	// ErrNotPending means an accept lost the race: the stored status had
	// already left pending when the conditional write ran.
	ErrNotPending = errors.New("request is not pending")
	// ErrWrongStatus means a complete/close precondition did not hold.
	ErrWrongStatus = errors.New("request is not in the required status")
)

// RequestStore is the single shared mutable resource of the dispatch core.
// Accept, Complete and Close are conditional updates: each applies its
// mutation if and only if the stored status still matches the transition's
// precondition, atomically with that check. SetProviderLocation is a plain
// field write guarded only by existence.
type RequestStore interface {
	Create(ctx context.Context, r *models.Request) error
	Get(ctx context.Context, id string) (*models.Request, error)
	ListPending(ctx context.Context) ([]*models.Request, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Request, error)
	ActiveForProvider(ctx context.Context, providerID string) (*models.Request, error)
	CompletedForCustomer(ctx context.Context, customerID string) ([]*models.Request, error)
	CompletedForProvider(ctx context.Context, providerID string) ([]*models.Request, error)

	Accept(ctx context.Context, id, providerID string, lat, lng float64) (*models.Request, error)
	Complete(ctx context.Context, id string, rating int, feedback string) (*models.Request, error)
	Close(ctx context.Context, id string) (*models.Request, error)
	SetProviderLocation(ctx context.Context, id string, lat, lng float64) (*models.Request, error)
}

// MemoryStore keeps requests in a mutex-guarded map. The store mutex is
// what makes Accept/Complete/Close atomic compare-and-set operations here.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.Request)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*models.Request, error) {
	return m.filter(func(r *models.Request) bool {
		return r.Status == models.StatusPending
	}), nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.Request, error) {
	return m.filter(func(r *models.Request) bool {
		return r.CustomerID == customerID
	}), nil
}

// ActiveForProvider returns the provider's current job: the one request
// assigned to them still in accepted or completed.
func (m *MemoryStore) ActiveForProvider(ctx context.Context, providerID string) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.ProviderID == providerID && (r.Status == models.StatusAccepted || r.Status == models.StatusCompleted) {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CompletedForCustomer(ctx context.Context, customerID string) ([]*models.Request, error) {
	return m.filter(func(r *models.Request) bool {
		return r.CustomerID == customerID && historical(r.Status)
	}), nil
}

func (m *MemoryStore) CompletedForProvider(ctx context.Context, providerID string) ([]*models.Request, error) {
	return m.filter(func(r *models.Request) bool {
		return r.ProviderID == providerID && historical(r.Status)
	}), nil
}

// Accept is the single-winner step: of N concurrent calls against the same
// pending request exactly one sees status==pending inside the lock.
func (m *MemoryStore) Accept(ctx context.Context, id, providerID string, lat, lng float64) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.StatusPending {
		return nil, ErrNotPending
	}
	r.Status = models.StatusAccepted
	r.ProviderID = providerID
	r.ProviderLocation = &models.Coord{Lat: lat, Lng: lng}
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

func (m *MemoryStore) Complete(ctx context.Context, id string, rating int, feedback string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.StatusAccepted {
		return nil, ErrWrongStatus
	}
	r.Status = models.StatusCompleted
	r.Rating = &rating
	r.Feedback = feedback
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

func (m *MemoryStore) Close(ctx context.Context, id string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.StatusCompleted {
		return nil, ErrWrongStatus
	}
	r.Status = models.StatusClosed
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

// SetProviderLocation overwrites the provider position without checking
// status. A report that lands after the request closed is applied as-is;
// nobody should still be polling it.
func (m *MemoryStore) SetProviderLocation(ctx context.Context, id string, lat, lng float64) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.ProviderLocation = &models.Coord{Lat: lat, Lng: lng}
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

func (m *MemoryStore) filter(keep func(*models.Request) bool) []*models.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	// newest first, id as tiebreaker so listings are stable
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func historical(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusClosed
}
