package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"agentbook/internal/apperr"
	"agentbook/internal/booking"
	"agentbook/internal/metrics"
	"agentbook/internal/realtime"
	"agentbook/internal/schedule"
	"agentbook/internal/slots"
	"github.com/rs/zerolog"
)

const (
	headerAPIKey = "X-Api-Key"
	headerUserID = "X-User-ID"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

// HTTPServer exposes availability, booking and schedule maintenance over JSON.
type HTTPServer struct {
	server      *http.Server
	apiKey      string
	coordinator *booking.Coordinator
	slots       *slots.Service
	schedule    *schedule.Service
	events      realtime.Streamer
	logger      *zerolog.Logger
}

// NewHTTPServer builds the server. An empty apiKey disables the key check.
func NewHTTPServer(
	addr, apiKey string,
	coordinator *booking.Coordinator,
	slotService *slots.Service,
	scheduleService *schedule.Service,
	logger *zerolog.Logger,
) *HTTPServer {
	l := logger.With().Str("component", "api").Logger()
	s := &HTTPServer{
		apiKey:      apiKey,
		coordinator: coordinator,
		slots:       slotService,
		schedule:    scheduleService,
		logger:      &l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/agents/{agentID}/slots", s.handleSlots)
	mux.HandleFunc("GET /api/v1/agents/{agentID}/reservations", s.handleAgentReservations)
	mux.HandleFunc("GET /api/v1/agents/{agentID}/schedule", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/v1/agents/{agentID}/schedule", s.handlePutSchedule)
	mux.HandleFunc("GET /api/v1/agents/{agentID}/exceptions", s.handleListExceptions)
	mux.HandleFunc("PUT /api/v1/agents/{agentID}/exceptions/{date}", s.handlePutException)
	mux.HandleFunc("DELETE /api/v1/agents/{agentID}/exceptions/{date}", s.handleDeleteException)
	mux.HandleFunc("GET /api/v1/agents/{agentID}/events", s.handleEvents)
	mux.HandleFunc("POST /api/v1/agents", s.handleActivateAgent)
	mux.HandleFunc("POST /api/v1/reservations", s.handleCreateReservation)
	mux.HandleFunc("GET /api/v1/reservations/{id}", s.handleGetReservation)
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", s.handleCancelReservation)
	mux.HandleFunc("POST /api/v1/reservations/{id}/complete", s.handleCompleteReservation)
	mux.HandleFunc("PUT /api/v1/reservations/{id}/payment", s.handlePayment)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.authMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// UseStreamer enables the live queue stream of GET /api/v1/agents/{agentID}/events.
func (s *HTTPServer) UseStreamer(streamer realtime.Streamer) {
	s.events = streamer
}

// Handler returns the routed handler with authentication applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("address", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(headerAPIKey) != s.apiKey {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid api key", Code: "unauthorized"})
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint, rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// userID reads the trusted identity header. Absent means a guest.
func userID(r *http.Request) (int64, bool, error) {
	raw := r.Header.Get(headerUserID)
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, apperr.Invalid(headerUserID, "must be a positive integer")
	}
	return id, true, nil
}

func agentIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("agentID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("agent_id", "must be a positive integer")
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperr.Invalid("", "invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *apperr.ValidationError
		slot       *apperr.SlotUnavailableError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: validation.Reason,
			Code:  "invalid_request",
			Field: validation.Field,
		})
	case errors.As(err, &slot):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "slot unavailable: " + slot.Reason + "; pick another time",
			Code:      "slot_unavailable",
			Retryable: true,
		})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, apperr.ErrTransient):
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Transient failure")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "temporarily unavailable; try again",
			Code:      "temporarily_unavailable",
			Retryable: true,
		})
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
	}
}
