package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/roadside-dispatch/internal/identity"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/otp"
	"github.com/example/roadside-dispatch/internal/storage"
	"github.com/example/roadside-dispatch/internal/tracker"
)

func newTestServer(t *testing.T) (*Server, *identity.MemoryGate) {
	t.Helper()
	store := storage.NewMemoryStore()
	engine := lifecycle.NewEngine(store, nil)
	trk := tracker.New(store, nil)
	gate := identity.NewMemoryGate()
	otpStore := otp.NewMemoryStore(5 * time.Minute)
	wsReg := notify.NewWSRegistry(nil)
	return NewServer(engine, trk, store, gate, otpStore, wsReg, nil), gate
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func createRequest(t *testing.T, srv http.Handler) string {
	t.Helper()
	rec, out := doJSON(t, srv, "POST", "/api/v1/requests", map[string]any{
		"customer_id":  "c1",
		"vehicle_type": "sedan",
		"description":  "flat tire",
		"lat":          16.4941,
		"lng":          80.4982,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("create response missing id: %v", out)
	}
	return id
}

func eligibleProvider(gate *identity.MemoryGate, id string) {
	gate.Put(models.Provider{ID: id, Verified: true, Active: true})
}

func TestCreateRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, out := doJSON(t, srv, "POST", "/api/v1/requests", map[string]any{
		"customer_id": "c1", "vehicle_type": "", "description": "x", "lat": 16.0, "lng": 80.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	if out["code"] != "invalid_input" {
		t.Fatalf("want invalid_input, got %v", out["code"])
	}
}

func TestAcceptRaceOverHTTP(t *testing.T) {
	srv, gate := newTestServer(t)
	id := createRequest(t, srv)
	eligibleProvider(gate, "pA")
	eligibleProvider(gate, "pB")

	rec, out := doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/accept", map[string]any{
		"provider_id": "pA", "lat": 16.5041, "lng": 80.5082,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept A: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if out["status"] != "accepted" || out["provider_id"] != "pA" {
		t.Fatalf("accept A response wrong: %v", out)
	}
	// full request echoed back includes distance for the poller
	if _, ok := out["distance_km"]; !ok {
		t.Fatalf("accept response missing distance_km: %v", out)
	}

	rec, out = doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/accept", map[string]any{
		"provider_id": "pB", "lat": 16.5, "lng": 80.5,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("accept B: want 409, got %d", rec.Code)
	}
	if out["code"] != "conflict" {
		t.Fatalf("accept B: want conflict code, got %v", out["code"])
	}
}

func TestAcceptDeniedForIneligibleProvider(t *testing.T) {
	srv, gate := newTestServer(t)
	id := createRequest(t, srv)
	gate.Put(models.Provider{ID: "blocked", Verified: true, Active: false})

	rec, out := doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/accept", map[string]any{
		"provider_id": "blocked", "lat": 16.5, "lng": 80.5,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}
	if out["code"] != "provider_ineligible" {
		t.Fatalf("want provider_ineligible, got %v", out["code"])
	}

	// the request is untouched and still visible to others
	rec, out = doJSON(t, srv, "GET", "/api/v1/requests/"+id, nil)
	if rec.Code != http.StatusOK || out["status"] != "pending" {
		t.Fatalf("request must stay pending, got %d %v", rec.Code, out["status"])
	}
}

func TestPendingListHidesAccepted(t *testing.T) {
	srv, gate := newTestServer(t)
	id1 := createRequest(t, srv)
	_ = createRequest(t, srv)
	eligibleProvider(gate, "pA")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/requests/pending", nil))
	var pending []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &pending)
	if len(pending) != 2 {
		t.Fatalf("want 2 pending, got %d", len(pending))
	}

	doJSON(t, srv, "PUT", "/api/v1/requests/"+id1+"/accept", map[string]any{
		"provider_id": "pA", "lat": 16.5, "lng": 80.5,
	})

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/requests/pending", nil))
	pending = nil
	json.Unmarshal(rec.Body.Bytes(), &pending)
	if len(pending) != 1 {
		t.Fatalf("accepted request must vanish from pending, got %d", len(pending))
	}
	if pending[0]["id"] == id1 {
		t.Fatalf("accepted request still listed: %v", pending[0])
	}
}

func TestLocationRoundingOverHTTP(t *testing.T) {
	srv, gate := newTestServer(t)
	id := createRequest(t, srv)
	eligibleProvider(gate, "pA")
	doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/accept", map[string]any{
		"provider_id": "pA", "lat": 16.5, "lng": 80.5,
	})

	rec, out := doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/location", map[string]any{
		"lat": 16.494123456, "lng": 80.498234567,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("location: want 200, got %d", rec.Code)
	}
	loc, _ := out["provider_location"].(map[string]any)
	if loc == nil || loc["lat"] != 16.494123 || loc["lng"] != 80.498235 {
		t.Fatalf("location not rounded: %v", out["provider_location"])
	}
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	srv, gate := newTestServer(t)
	id := createRequest(t, srv)
	eligibleProvider(gate, "pA")

	doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/accept", map[string]any{
		"provider_id": "pA", "lat": 16.5041, "lng": 80.5082,
	})
	for i := 0; i < 3; i++ {
		rec, _ := doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/location", map[string]any{
			"lat": 16.50 + float64(i)/1000, "lng": 80.50,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("location %d: got %d", i, rec.Code)
		}
	}

	// confirm before complete is rejected
	rec, out := doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/confirm", nil)
	if rec.Code != http.StatusConflict || out["code"] != "invalid_state" {
		t.Fatalf("early confirm: want 409 invalid_state, got %d %v", rec.Code, out["code"])
	}

	rec, out = doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/complete", map[string]any{
		"rating": 5, "feedback": "quick work",
	})
	if rec.Code != http.StatusOK || out["status"] != "completed" {
		t.Fatalf("complete: got %d %v", rec.Code, out["status"])
	}

	// the provider still sees it as the active job until closure
	rec, out = doJSON(t, srv, "GET", "/api/v1/requests/provider/pA/active", nil)
	if rec.Code != http.StatusOK || out["id"] != id {
		t.Fatalf("active for provider: got %d %v", rec.Code, out)
	}

	rec, out = doJSON(t, srv, "PUT", "/api/v1/requests/"+id+"/confirm", nil)
	if rec.Code != http.StatusOK || out["status"] != "closed" {
		t.Fatalf("confirm: got %d %v", rec.Code, out["status"])
	}
	if out["provider_id"] != "pA" || out["rating"] != float64(5) {
		t.Fatalf("closed record wrong: %v", out)
	}

	rec, _ = doJSON(t, srv, "GET", "/api/v1/requests/provider/pA/active", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("closed request must not be active: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/requests/customer/c1/completed", nil))
	var hist []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &hist)
	if len(hist) != 1 || hist[0]["id"] != id {
		t.Fatalf("customer history wrong: %v", hist)
	}
}

func TestUnknownRequestIs404(t *testing.T) {
	srv, gate := newTestServer(t)
	eligibleProvider(gate, "pA")

	paths := []struct {
		method, path string
		body         any
	}{
		{"GET", "/api/v1/requests/ghost", nil},
		{"PUT", "/api/v1/requests/ghost/accept", map[string]any{"provider_id": "pA", "lat": 16.5, "lng": 80.5}},
		{"PUT", "/api/v1/requests/ghost/location", map[string]any{"lat": 16.5, "lng": 80.5}},
		{"PUT", "/api/v1/requests/ghost/complete", map[string]any{"rating": 5}},
		{"PUT", "/api/v1/requests/ghost/confirm", nil},
	}
	for _, p := range paths {
		rec, _ := doJSON(t, srv, p.method, p.path, p.body)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: want 404, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestIdempotentRead(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createRequest(t, srv)

	_, first := doJSON(t, srv, "GET", "/api/v1/requests/"+id, nil)
	_, second := doJSON(t, srv, "GET", "/api/v1/requests/"+id, nil)
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Fatalf("reads differ without mutation:\n%v\n%v", first, second)
	}
}

func TestOTPEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv, "POST", "/api/v1/auth/otp/send", map[string]any{
		"mobile": "9999900000", "role": "customer",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-admin otp: want 400, got %d", rec.Code)
	}

	rec, out := doJSON(t, srv, "POST", "/api/v1/auth/otp/send", map[string]any{
		"mobile": "9999900000", "role": "admin",
	})
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("send otp: got %d %v", rec.Code, out)
	}
	// the code is never returned to the caller
	if _, leaked := out["otp"]; leaked {
		t.Fatal("otp code leaked in response")
	}

	rec, out = doJSON(t, srv, "POST", "/api/v1/auth/otp/verify", map[string]any{
		"mobile": "9999900000", "otp": "000000", "role": "admin",
	})
	if rec.Code != http.StatusBadRequest || out["code"] != "otp_rejected" {
		t.Fatalf("bad otp: got %d %v", rec.Code, out)
	}
}
