package lifecycle

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/storage"
)

func newEngine() *Engine {
	return NewEngine(storage.NewMemoryStore(), nil)
}

func TestCreateValidation(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	cases := []struct {
		name                               string
		customerID, vehicleType, desc      string
		lat, lng                           float64
	}{
		{"missing customer", "", "sedan", "flat tire", 16.49, 80.49},
		{"missing vehicle type", "c1", "", "flat tire", 16.49, 80.49},
		{"missing description", "c1", "sedan", "", 16.49, 80.49},
		{"nan latitude", "c1", "sedan", "flat tire", math.NaN(), 80.49},
		{"infinite longitude", "c1", "sedan", "flat tire", 16.49, math.Inf(1)},
		{"latitude out of range", "c1", "sedan", "flat tire", 95, 80.49},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.Create(ctx, c.customerID, c.vehicleType, c.desc, c.lat, c.lng)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("want ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateRoundsCoordinates(t *testing.T) {
	e := newEngine()
	r, err := e.Create(context.Background(), "c1", "sedan", "flat tire", 16.494123456, 80.498234567)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.CustomerLocation.Lat != 16.494123 || r.CustomerLocation.Lng != 80.498235 {
		t.Fatalf("coordinates not rounded to 6 decimals: %+v", r.CustomerLocation)
	}
	if r.Status != models.StatusPending {
		t.Fatalf("new request must be pending, got %s", r.Status)
	}
	if r.ID == "" {
		t.Fatal("id not assigned")
	}
}

func TestAcceptRoundsAndBinds(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	r, _ := e.Create(ctx, "c1", "sedan", "flat tire", 16.4941, 80.4982)

	got, err := e.Accept(ctx, r.ID, "p1", 16.494123456, 80.498234567)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != models.StatusAccepted || got.ProviderID != "p1" {
		t.Fatalf("accept result wrong: %+v", got)
	}
	if got.ProviderLocation.Lat != 16.494123 || got.ProviderLocation.Lng != 80.498235 {
		t.Fatalf("provider coordinates not rounded: %+v", got.ProviderLocation)
	}
}

func TestAcceptErrors(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	if _, err := e.Accept(ctx, "missing", "p1", 16.49, 80.49); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	r, _ := e.Create(ctx, "c1", "sedan", "flat tire", 16.49, 80.49)
	if _, err := e.Accept(ctx, r.ID, "", 16.49, 80.49); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty provider: want ErrInvalidInput, got %v", err)
	}
	if _, err := e.Accept(ctx, r.ID, "p1", math.NaN(), 80.49); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nan coord: want ErrInvalidInput, got %v", err)
	}
	if _, err := e.Accept(ctx, r.ID, "p1", 16.49, 80.49); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.Accept(ctx, r.ID, "p2", 16.49, 80.49); !errors.Is(err, ErrConflict) {
		t.Fatalf("lost race: want ErrConflict, got %v", err)
	}
}

func TestConcurrentAcceptsYieldOneWinner(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	r, _ := e.Create(ctx, "c1", "sedan", "flat tire", 16.49, 80.49)

	const n = 12
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Accept(ctx, r.ID, string(rune('a'+i)), 16.5, 80.5)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("want 1 winner and %d conflicts, got %d/%d", n-1, wins, conflicts)
	}
}

func TestCompleteValidation(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	r, _ := e.Create(ctx, "c1", "sedan", "flat tire", 16.49, 80.49)

	for _, bad := range []int{0, -1, 6, 100} {
		if _, err := e.Complete(ctx, r.ID, bad, ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("rating %d: want ErrInvalidInput, got %v", bad, err)
		}
	}
	// valid rating but wrong state
	if _, err := e.Complete(ctx, r.ID, 5, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("complete from pending: want ErrInvalidState, got %v", err)
	}
	if _, err := e.Complete(ctx, "missing", 5, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete missing: want ErrNotFound, got %v", err)
	}
}

func TestConfirmClosureErrors(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	r, _ := e.Create(ctx, "c1", "sedan", "flat tire", 16.49, 80.49)

	if _, err := e.ConfirmClosure(ctx, r.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("confirm from pending: want ErrInvalidState, got %v", err)
	}
	if _, err := e.ConfirmClosure(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("confirm missing: want ErrNotFound, got %v", err)
	}
}

// Full lifecycle: create, accept race, location reports, complete, close.
func TestEndToEndScenario(t *testing.T) {
	store := storage.NewMemoryStore()
	e := NewEngine(store, nil)
	ctx := context.Background()

	r, err := e.Create(ctx, "c1", "truck", "engine trouble", 16.4941, 80.4982)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.Accept(ctx, r.ID, "providerA", 16.5041, 80.5082); err != nil {
		t.Fatalf("accept A: %v", err)
	}
	if _, err := e.Accept(ctx, r.ID, "providerB", 16.5, 80.5); !errors.Is(err, ErrConflict) {
		t.Fatalf("accept B: want ErrConflict, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.SetProviderLocation(ctx, r.ID, 16.50+float64(i)/1000, 80.50); err != nil {
			t.Fatalf("location report %d: %v", i, err)
		}
	}

	done, err := e.Complete(ctx, r.ID, 5, "quick and friendly")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Rating == nil || *done.Rating != 5 {
		t.Fatalf("rating not recorded: %+v", done.Rating)
	}

	closed, err := e.ConfirmClosure(ctx, r.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if closed.Status != models.StatusClosed {
		t.Fatalf("want closed, got %s", closed.Status)
	}
	if closed.ProviderID != "providerA" {
		t.Fatalf("provider must be the race winner, got %s", closed.ProviderID)
	}
	if closed.Rating == nil || *closed.Rating != 5 {
		t.Fatalf("rating lost on closure: %+v", closed.Rating)
	}
}
