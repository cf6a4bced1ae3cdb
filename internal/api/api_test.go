package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentbook/internal/booking"
	"agentbook/internal/db"
	"agentbook/internal/model"
	"agentbook/internal/notify"
	"agentbook/internal/realtime"
	"agentbook/internal/schedule"
	"agentbook/internal/slots"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "valid-key"

// 2026-11-03 is a Tuesday; the clock sits two days earlier.
const bookingDate = "2026-11-03"

type testServer struct {
	db      *db.DB
	handler http.Handler
	bus     *realtime.Bus
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)
	now := func() time.Time { return time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC) }

	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	slotService := slots.NewService(store, &logger, slots.WithLocation(time.UTC), slots.WithClock(now))
	scheduleService := schedule.NewService(store, slotService, &logger)
	require.NoError(t, scheduleService.ActivateAgent(context.Background(), model.Agent{ID: 1, Name: "Anna", UserID: 100}, nil))

	bus := realtime.NewBus()
	coordinator := booking.NewCoordinator(store, slotService, notify.Nop{}, bus, &logger, booking.WithClock(now))
	t.Cleanup(coordinator.Dispatcher().Wait)

	server := NewHTTPServer(":0", testAPIKey, coordinator, slotService, scheduleService, &logger)
	server.UseStreamer(bus)
	return &testServer{db: store, handler: server.Handler(), bus: bus}
}

type call struct {
	method string
	path   string
	body   any
	userID string
	apiKey string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	switch b := c.body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	key := c.apiKey
	if key == "" {
		key = testAPIKey
	}
	req.Header.Set("X-Api-Key", key)
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func bookingBody(clock string) map[string]any {
	return map[string]any{
		"agent_id":       1,
		"date":           bookingDate,
		"time":           clock,
		"payment_method": "cash",
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/slots?date=" + bookingDate, apiKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, w).Code)
}

func TestHandleSlots(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/slots?date=" + bookingDate})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SlotsResponse](t, w)
	assert.Equal(t, int64(1), resp.AgentID)
	assert.Equal(t, bookingDate, resp.Date)
	assert.Equal(t, []string{"09:00", "10:00", "11:00", "12:00", "14:00", "15:00", "16:00", "17:00"}, resp.Slots)

	// Saturday is closed by default and still renders an empty list.
	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/slots?date=2026-11-07"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agent_id":1,"date":"2026-11-07","slots":[]}`, w.Body.String())

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"missing date", "/api/v1/agents/1/slots", http.StatusBadRequest, "invalid_request"},
		{"bad date", "/api/v1/agents/1/slots?date=03-11-2026", http.StatusBadRequest, "invalid_request"},
		{"bad agent", "/api/v1/agents/abc/slots?date=" + bookingDate, http.StatusBadRequest, "invalid_request"},
		{"unknown agent", "/api/v1/agents/99/slots?date=" + bookingDate, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, call{method: http.MethodGet, path: tt.path})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestCreateReservation(t *testing.T) {
	srv := setupTestServer(t)

	events := make(chan realtime.Envelope, 4)
	srv.bus.Subscribe(model.AgentRoom(1), func(e realtime.Envelope) error {
		events <- e
		return nil
	})

	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("10:00"), userID: "42"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[map[string]any](t, w)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, float64(42), created["client_id"])
	assert.Equal(t, bookingDate, created["date"])
	assert.Equal(t, "10:00", created["time"])
	assert.Equal(t, "PENDING", created["status"])

	select {
	case e := <-events:
		assert.Equal(t, realtime.EventReservationCreated, e.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime event")
	}

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/slots?date=" + bookingDate})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode[SlotsResponse](t, w).Slots, "10:00")

	w = srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("10:00"), userID: "43"})
	require.Equal(t, http.StatusConflict, w.Code)
	conflict := decode[ErrorResponse](t, w)
	assert.Equal(t, "slot_unavailable", conflict.Code)
	assert.True(t, conflict.Retryable)

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/reservations?date=" + bookingDate})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Reservations []map[string]any `json:"reservations"`
	}](t, w)
	assert.Len(t, list.Reservations, 1)
}

func TestCreateReservationGuest(t *testing.T) {
	srv := setupTestServer(t)

	body := bookingBody("11:00")
	body["guest_name"] = "Walk In"
	body["guest_phone"] = "+100"
	body["payment_proof_ref"] = "receipt-7"

	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	assert.Equal(t, "Walk In", created["guest_name"])
	assert.Equal(t, "PENDING", created["payment_status"])
	assert.NotContains(t, created, "client_id")
}

func TestCreateReservationErrors(t *testing.T) {
	srv := setupTestServer(t)

	tests := []struct {
		name       string
		body       any
		userID     string
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{"invalid JSON", "not json", "42", http.StatusBadRequest, "invalid_request", ""},
		{"unknown field", map[string]any{"agent": 1}, "42", http.StatusBadRequest, "invalid_request", ""},
		{"guest without phone", map[string]any{"agent_id": 1, "date": bookingDate, "time": "10:00", "payment_method": "cash", "guest_name": "A"}, "", http.StatusBadRequest, "invalid_request", "guest"},
		{"bad user header", bookingBody("10:00"), "abc", http.StatusBadRequest, "invalid_request", "X-User-ID"},
		{"bad time", bookingBody("10:30"), "42", http.StatusConflict, "slot_unavailable", ""},
		{"malformed time", bookingBody("1000"), "42", http.StatusBadRequest, "invalid_request", "time"},
		{"closed day", map[string]any{"agent_id": 1, "date": "2026-11-07", "time": "10:00", "payment_method": "cash"}, "42", http.StatusConflict, "slot_unavailable", ""},
		{"unknown agent", map[string]any{"agent_id": 9, "date": bookingDate, "time": "10:00", "payment_method": "cash"}, "42", http.StatusNotFound, "not_found", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: tt.body, userID: tt.userID})
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantField, resp.Field)
		})
	}
}

func TestReservationLifecycle(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("14:00"), userID: "42"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]any](t, w)["id"].(string)
	base := "/api/v1/reservations/" + id

	w = srv.do(t, call{method: http.MethodGet, path: base})
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, call{method: http.MethodPut, path: base + "/payment", body: map[string]string{"payment_status": "bogus"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, call{method: http.MethodPut, path: base + "/payment", body: map[string]string{"payment_status": "verified"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CONFIRMED", decode[map[string]any](t, w)["status"])

	w = srv.do(t, call{method: http.MethodPost, path: base + "/complete"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLETED", decode[map[string]any](t, w)["status"])

	w = srv.do(t, call{method: http.MethodPost, path: base + "/cancel", userID: "42"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "status", decode[ErrorResponse](t, w).Field)

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/reservations/missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelFreesSlot(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("15:00"), userID: "42"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]any](t, w)["id"].(string)

	w = srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations/" + id + "/cancel", userID: "42"})
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decode[map[string]any](t, w)
	assert.Equal(t, "CANCELLED", cancelled["status"])
	assert.NotEmpty(t, cancelled["cancelled_at"])

	w = srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("15:00"), userID: "43"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func weekBody(start, end string) map[string]any {
	rules := make([]map[string]any, 0, model.DaysInWeek)
	for day := 0; day < model.DaysInWeek; day++ {
		rules = append(rules, map[string]any{
			"day_of_week":  day,
			"is_available": day != 0,
			"start_time":   start,
			"end_time":     end,
		})
	}
	return map[string]any{"rules": rules}
}

func TestScheduleEndpoints(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/schedule"})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		AgentID int64              `json:"agent_id"`
		Rules   []model.WeeklyRule `json:"rules"`
	}](t, w)
	assert.Equal(t, int64(1), got.AgentID)
	assert.Len(t, got.Rules, model.DaysInWeek)

	w = srv.do(t, call{method: http.MethodPut, path: "/api/v1/agents/1/schedule", body: weekBody("08:00", "11:00")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/slots?date=" + bookingDate})
	assert.Equal(t, []string{"08:00", "09:00", "10:00"}, decode[SlotsResponse](t, w).Slots)

	short := weekBody("08:00", "11:00")
	short["rules"] = short["rules"].([]map[string]any)[:6]
	w = srv.do(t, call{method: http.MethodPut, path: "/api/v1/agents/1/schedule", body: short})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	dup := weekBody("08:00", "11:00")
	dup["rules"].([]map[string]any)[6]["day_of_week"] = 5
	w = srv.do(t, call{method: http.MethodPut, path: "/api/v1/agents/1/schedule", body: dup})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, call{method: http.MethodPut, path: "/api/v1/agents/1/schedule", body: weekBody("12:00", "11:00")})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/99/schedule"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExceptionEndpoints(t *testing.T) {
	srv := setupTestServer(t)
	path := "/api/v1/agents/1/exceptions/" + bookingDate
	slotsPath := "/api/v1/agents/1/slots?date=" + bookingDate

	w := srv.do(t, call{method: http.MethodPut, path: path, body: map[string]any{"is_available": false, "reason": "training"}})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = srv.do(t, call{method: http.MethodGet, path: slotsPath})
	assert.Empty(t, decode[SlotsResponse](t, w).Slots)

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/exceptions?from=2026-11-01&to=2026-11-30"})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Exceptions []map[string]any `json:"exceptions"`
	}](t, w)
	require.Len(t, list.Exceptions, 1)
	assert.Equal(t, "training", list.Exceptions[0]["reason"])

	w = srv.do(t, call{method: http.MethodPut, path: path, body: map[string]any{"is_available": true, "start_time": "16:00", "end_time": "18:00"}})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = srv.do(t, call{method: http.MethodGet, path: slotsPath})
	assert.Equal(t, []string{"16:00", "17:00"}, decode[SlotsResponse](t, w).Slots)

	w = srv.do(t, call{method: http.MethodDelete, path: path})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = srv.do(t, call{method: http.MethodGet, path: slotsPath})
	assert.Len(t, decode[SlotsResponse](t, w).Slots, 8)

	w = srv.do(t, call{method: http.MethodPut, path: "/api/v1/agents/1/exceptions/tomorrow", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/1/exceptions?from=2026-01-01&to=2028-01-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransientFailure(t *testing.T) {
	srv := setupTestServer(t)
	require.NoError(t, srv.db.Close())

	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("10:00"), userID: "42"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "temporarily_unavailable", resp.Code)
	assert.True(t, resp.Retryable)
}

func TestActivateAgent(t *testing.T) {
	srv := setupTestServer(t)

	body := map[string]any{
		"id":    2,
		"name":  "Boris",
		"hours": map[string]string{"start_time": "10:00", "end_time": "13:00"},
	}
	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/agents", body: body})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = srv.do(t, call{method: http.MethodGet, path: "/api/v1/agents/2/slots?date=" + bookingDate})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"10:00", "11:00", "12:00"}, decode[SlotsResponse](t, w).Slots)

	w = srv.do(t, call{method: http.MethodPost, path: "/api/v1/agents", body: map[string]any{"id": 3}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "name", decode[ErrorResponse](t, w).Field)
}

func TestEventStream(t *testing.T) {
	srv := setupTestServer(t)
	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/agents/1/events", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", testAPIKey)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	w := srv.do(t, call{method: http.MethodPost, path: "/api/v1/reservations", body: bookingBody("16:00"), userID: "42"})
	require.Equal(t, http.StatusCreated, w.Code)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if strings.HasPrefix(line, "event: ") {
				assert.Equal(t, "event: "+realtime.EventReservationCreated, line)
				return
			}
		case <-deadline:
			t.Fatal("no event on stream")
		}
	}
}
