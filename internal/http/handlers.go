package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/otp"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Code: code, Message: msg})
}

// writeEngineError maps the lifecycle taxonomy onto HTTP statuses. A lost
// accept race and a bad-state transition both come back 409 but with
// distinct codes so pollers can tell them apart.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, lifecycle.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// requestView is the wire shape of a request. DistanceKm is attached on
// read paths once both coordinates are known.
type requestView struct {
	*models.Request
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

func view(r *models.Request) requestView {
	v := requestView{Request: r}
	if r.ProviderLocation != nil {
		if d, err := geo.DistanceKm(r.CustomerLocation.Lat, r.CustomerLocation.Lng, r.ProviderLocation.Lat, r.ProviderLocation.Lng); err == nil {
			v.DistanceKm = &d
		}
	}
	return v
}

func views(rs []*models.Request) []requestView {
	out := make([]requestView, 0, len(rs))
	for _, r := range rs {
		out = append(out, view(r))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type createRequestBody struct {
	CustomerID  string  `json:"customer_id"`
	VehicleType string  `json:"vehicle_type"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	req, err := s.Engine.Create(r.Context(), body.CustomerID, body.VehicleType, body.Description, body.Lat, body.Lng)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if s.Webhook != nil {
		s.Webhook.StatusChanged("request.created", req)
	}
	writeJSON(w, http.StatusCreated, view(req))
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Store.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, views(reqs))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.Store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "request not found")
		return
	}
	writeJSON(w, http.StatusOK, view(req))
}

type acceptBody struct {
	ProviderID string  `json:"provider_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	// eligibility gate sits in front of the engine: an unverified, rejected
	// or blocked provider never reaches the accept race
	ok, err := s.Gate.Eligible(r.Context(), body.ProviderID)
	if err != nil {
		s.logger.Error("eligibility check failed", "provider_id", body.ProviderID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "eligibility check failed")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "provider_ineligible", "provider is not eligible to accept requests")
		return
	}
	req, err := s.Engine.Accept(r.Context(), id, body.ProviderID, body.Lat, body.Lng)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if s.Webhook != nil {
		s.Webhook.StatusChanged("request.accepted", req)
	}
	if s.WSReg != nil {
		s.WSReg.Broadcast(req.ID, req)
	}
	s.holdCalloutFee(r, req)
	writeJSON(w, http.StatusOK, view(req))
}

type locationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body locationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	req, err := s.Tracker.Report(r.Context(), id, body.Lat, body.Lng)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(req))
}

type completeBody struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body completeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	req, err := s.Engine.Complete(r.Context(), id, body.Rating, body.Feedback)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if s.Webhook != nil {
		s.Webhook.StatusChanged("request.completed", req)
	}
	if s.WSReg != nil {
		s.WSReg.Broadcast(req.ID, req)
	}
	writeJSON(w, http.StatusOK, view(req))
}

func (s *Server) handleConfirmClosure(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.Engine.ConfirmClosure(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if s.Webhook != nil {
		s.Webhook.StatusChanged("request.closed", req)
	}
	if s.WSReg != nil {
		s.WSReg.Broadcast(req.ID, req)
	}
	s.captureCalloutFee(r, req)
	writeJSON(w, http.StatusOK, view(req))
}

func (s *Server) handleListByCustomer(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Store.ListByCustomer(r.Context(), mux.Vars(r)["customerId"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, views(reqs))
}

func (s *Server) handleCompletedForCustomer(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Store.CompletedForCustomer(r.Context(), mux.Vars(r)["customerId"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, views(reqs))
}

func (s *Server) handleActiveForProvider(w http.ResponseWriter, r *http.Request) {
	req, err := s.Store.ActiveForProvider(r.Context(), mux.Vars(r)["providerId"])
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no active request found")
		return
	}
	writeJSON(w, http.StatusOK, view(req))
}

func (s *Server) handleCompletedForProvider(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Store.CompletedForProvider(r.Context(), mux.Vars(r)["providerId"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, views(reqs))
}

type otpSendBody struct {
	Mobile string `json:"mobile"`
	Role   string `json:"role"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var body otpSendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	if body.Mobile == "" || body.Role != "admin" {
		writeError(w, http.StatusBadRequest, "invalid_input", "only admin requires otp")
		return
	}
	if s.OTP == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "otp issuance is not configured")
		return
	}
	code, err := s.OTP.Issue(r.Context(), body.Mobile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to issue otp")
		return
	}
	// code is handed to the SMS gateway, never to the caller
	s.logger.Info("admin otp issued", "mobile", body.Mobile, "code", code)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type otpVerifyBody struct {
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
	Role   string `json:"role"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	if body.Mobile == "" || body.OTP == "" || body.Role != "admin" {
		writeError(w, http.StatusBadRequest, "invalid_input", "only admin requires otp")
		return
	}
	if s.OTP == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "otp issuance is not configured")
		return
	}
	if err := s.OTP.Verify(r.Context(), body.Mobile, body.OTP); err != nil {
		if errors.Is(err, otp.ErrNotFound) || errors.Is(err, otp.ErrExpired) || errors.Is(err, otp.ErrMismatch) {
			writeError(w, http.StatusBadRequest, "otp_rejected", err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "internal", "failed to verify otp")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// holdCalloutFee places the manual-capture hold after a won accept.
// Best-effort: a payments outage must not undo an assignment.
func (s *Server) holdCalloutFee(r *http.Request, req *models.Request) {
	if s.Payments == nil || s.CalloutFeeCents <= 0 {
		return
	}
	piID, err := s.Payments.HoldCalloutFee(r.Context(), s.CalloutFeeCents, s.FeeCurrency, req.CustomerID)
	if err != nil {
		s.logger.Warn("callout fee hold failed", "request_id", req.ID, "error", err)
		return
	}
	s.holdMu.Lock()
	s.holds[req.ID] = piID
	s.holdMu.Unlock()
}

func (s *Server) captureCalloutFee(r *http.Request, req *models.Request) {
	if s.Payments == nil {
		return
	}
	s.holdMu.Lock()
	piID, ok := s.holds[req.ID]
	if ok {
		delete(s.holds, req.ID)
	}
	s.holdMu.Unlock()
	if !ok {
		return
	}
	if err := s.Payments.Capture(r.Context(), piID); err != nil {
		s.logger.Warn("callout fee capture failed", "request_id", req.ID, "payment_intent", piID, "error", err)
	}
}
