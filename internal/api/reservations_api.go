package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"agentbook/internal/apperr"
	"agentbook/internal/booking"
	"agentbook/internal/model"
)

// SlotsResponse is the response for GET /api/v1/agents/{agentID}/slots.
type SlotsResponse struct {
	AgentID int64    `json:"agent_id"`
	Date    string   `json:"date"`
	Slots   []string `json:"slots"`
}

// CreateReservationRequest is the request body for POST /api/v1/reservations.
// Registered clients are identified by the X-User-ID header; without it
// guest_name and guest_phone are required.
type CreateReservationRequest struct {
	AgentID         int64  `json:"agent_id"`
	Date            string `json:"date"` // Format: YYYY-MM-DD
	Time            string `json:"time"` // Format: HH:MM
	GuestName       string `json:"guest_name,omitempty"`
	GuestPhone      string `json:"guest_phone,omitempty"`
	ServiceID       *int64 `json:"service_id,omitempty"`
	PaymentMethod   string `json:"payment_method"`
	PaymentProofRef string `json:"payment_proof_ref,omitempty"`
	Notes           string `json:"notes,omitempty"`
	ClientNow       string `json:"client_now,omitempty"` // Format: HH:MM
}

// PaymentRequest is the request body for PUT /api/v1/reservations/{id}/payment.
type PaymentRequest struct {
	PaymentStatus string `json:"payment_status"`
}

// handleSlots returns the bookable start times of an agent for one date.
// GET /api/v1/agents/{agentID}/slots?date=YYYY-MM-DD&now=HH:MM
func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dateStr := r.URL.Query().Get("date")
	date, err := model.ParseDate(dateStr)
	if err != nil {
		s.writeError(w, r, apperr.Invalid("date", "expected YYYY-MM-DD, got %q", dateStr))
		return
	}

	list, err := s.slots.GetAvailableSlots(r.Context(), agentID, date, r.URL.Query().Get("now"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []string{}
	}

	writeJSON(w, http.StatusOK, SlotsResponse{AgentID: agentID, Date: model.FormatDate(date), Slots: list})
}

// handleAgentReservations returns the live queue of an agent for one date.
// GET /api/v1/agents/{agentID}/reservations?date=YYYY-MM-DD
func (s *HTTPServer) handleAgentReservations(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.coordinator.ListForAgentDate(r.Context(), agentID, r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

// handleCreateReservation books one slot.
// POST /api/v1/reservations
func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	uid, registered, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var requester model.Requester = model.Guest{Name: req.GuestName, Phone: req.GuestPhone}
	if registered {
		requester = model.Registered{ClientID: uid}
	}

	res, err := s.coordinator.CreateReservation(r.Context(), booking.Request{
		AgentID:         req.AgentID,
		Date:            req.Date,
		Time:            req.Time,
		Requester:       requester,
		ServiceID:       req.ServiceID,
		PaymentMethod:   req.PaymentMethod,
		PaymentProofRef: req.PaymentProofRef,
		Notes:           req.Notes,
		ClientNow:       req.ClientNow,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET /api/v1/reservations/{id}
func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.coordinator.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/v1/reservations/{id}/cancel
func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	uid, _, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.coordinator.Cancel(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/v1/reservations/{id}/complete
func (s *HTTPServer) handleCompleteReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.coordinator.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PUT /api/v1/reservations/{id}/payment
func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	status := model.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.PaymentStatus)))
	res, err := s.coordinator.SetPaymentStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEvents streams the agent's reservation events as server-sent events.
// GET /api/v1/agents/{agentID}/events
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if s.events == nil || !ok {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "event stream disabled", Code: "not_implemented"})
		return
	}

	events, err := s.events.Stream(r.Context(), model.AgentRoom(agentID))
	if err != nil {
		s.writeError(w, r, apperr.Transient("stream events", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for env := range events {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Event, data); err != nil {
			return
		}
		flusher.Flush()
	}
}
