package identity

import (
	"context"
	"sync"

	"github.com/example/roadside-dispatch/internal/models"
)

// Gate answers whether a provider may accept requests. The KYC workflow
// itself lives with the identity collaborator; the dispatch core only
// consumes its verdict: verified, not rejected, and active.
type Gate interface {
	Eligible(ctx context.Context, providerID string) (bool, error)
}

// AllowAll is used when no identity backend is configured, e.g. local
// development against the in-memory store.
type AllowAll struct{}

func (AllowAll) Eligible(ctx context.Context, providerID string) (bool, error) {
	return true, nil
}

// MemoryGate keeps provider records in process. Useful for tests and for
// single-node deployments seeded at startup.
type MemoryGate struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{providers: make(map[string]models.Provider)}
}

func (g *MemoryGate) Put(p models.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.ID] = p
}

// Eligible: an unknown provider is ineligible, not an error. The caller
// turns false into a denial before the engine is ever invoked.
func (g *MemoryGate) Eligible(ctx context.Context, providerID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[providerID]
	if !ok {
		return false, nil
	}
	return p.Verified && !p.Rejected && p.Active, nil
}
