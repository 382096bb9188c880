package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/inventory"
	"ms-event-inventory/internal/lifecycle"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/reservation"
	"ms-event-inventory/internal/sse"
	"ms-event-inventory/internal/statistics"
	"ms-event-inventory/internal/store"
	"ms-event-inventory/internal/store/storetest"
)

var t0 = time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	RequestID string          `json:"request_id"`
}

type fixture struct {
	handler *Handler
	router  http.Handler
	clock   *clock.Manual
}

func setup(t *testing.T) *fixture {
	db := store.New(storetest.NewSQLite(t), store.WithRetry(2, time.Millisecond))
	clk := clock.NewManual(t0)
	emitter := sse.NewEventEmitter()
	log := logger.NewDiscardLogger()

	lc := lifecycle.New(db, clk, lifecycle.WithNotifier(emitter))
	inv := inventory.New(db, clk, inventory.WithNotifier(emitter))
	res := reservation.New(db, inv, clk, reservation.WithNotifier(emitter))
	h := NewHandler(lc, inv, res, statistics.NewService(db), emitter, log)
	return &fixture{handler: h, router: h.Router(nil, nil), clock: clk}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (f *fixture) publishedEvent(t *testing.T, capacity int) string {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/api/events", map[string]any{
		"name":       "Lakeside Orchestra",
		"location":   "Bandstand",
		"capacity":   capacity,
		"start_time": t0.Add(48 * time.Hour),
		"end_time":   t0.Add(50 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var ev models.EventRecord
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, models.StatusDraft, ev.Status)

	code, env = f.do(t, http.MethodPost, "/api/events/"+ev.ID+"/transitions", map[string]any{"status": "published"})
	require.Equal(t, http.StatusOK, code, env.Error)
	return ev.ID
}

func TestReservationFlow(t *testing.T) {
	f := setup(t)
	id := f.publishedEvent(t, 3)

	code, env := f.do(t, http.MethodPost, "/api/reservations", map[string]any{
		"reservation_id": "checkout-1", "event_id": id, "quantity": 3, "ttl_seconds": 60,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = f.do(t, http.MethodPost, "/api/reservations", map[string]any{
		"reservation_id": "checkout-2", "event_id": id, "quantity": 1,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "sold out", env.Message)

	code, _ = f.do(t, http.MethodPost, "/api/reservations", map[string]any{
		"reservation_id": "checkout-1", "event_id": id, "quantity": 1,
	})
	assert.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, http.MethodPost, "/api/reservations/checkout-1/confirm", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)
	var r models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &r))
	assert.Equal(t, models.ReservationConfirmed, r.State)

	code, env = f.do(t, http.MethodGet, "/api/events/"+id+"/availability?quantity=1", nil)
	require.Equal(t, http.StatusOK, code)
	var a models.Availability
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, 3, a.Sold)
	assert.False(t, a.Available)

	code, env = f.do(t, http.MethodGet, "/api/events/"+id+"/statistics", nil)
	require.Equal(t, http.StatusOK, code)
	var stats statistics.EventStatistics
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.InDelta(t, 1.0, stats.SellThrough, 1e-9)
}

func TestExpiredReservationIsGone(t *testing.T) {
	f := setup(t)
	id := f.publishedEvent(t, 5)

	code, _ := f.do(t, http.MethodPost, "/api/reservations", map[string]any{
		"reservation_id": "checkout-1", "event_id": id, "quantity": 2, "ttl_seconds": 30,
	})
	require.Equal(t, http.StatusCreated, code)

	f.clock.Advance(time.Minute)
	code, env := f.do(t, http.MethodPost, "/api/reservations/checkout-1/confirm", nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "reservation expired", env.Message)

	code, _ = f.do(t, http.MethodDelete, "/api/reservations/checkout-1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestDraftEventCannotSell(t *testing.T) {
	f := setup(t)
	code, env := f.do(t, http.MethodPost, "/api/events", map[string]any{
		"name": "Closed Rehearsal", "location": "Studio B", "capacity": 10,
		"start_time": t0.Add(time.Hour), "end_time": t0.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, code)
	var ev models.EventRecord
	require.NoError(t, json.Unmarshal(env.Data, &ev))

	code, env = f.do(t, http.MethodPost, "/api/events/"+ev.ID+"/sales", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "cannot be purchased right now", env.Message)

	code, env = f.do(t, http.MethodGet, "/api/events/"+ev.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Status       models.EventStatus   `json:"status"`
		NextStatuses []models.EventStatus `json:"next_statuses"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.StatusDraft, view.Status)
	assert.ElementsMatch(t, []models.EventStatus{models.StatusPublished, models.StatusCancelled}, view.NextStatuses)

	code, _ = f.do(t, http.MethodPost, "/api/events/"+ev.ID+"/transitions", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodDelete, "/api/events/"+ev.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodGet, "/api/events/"+ev.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCapacityAndRefunds(t *testing.T) {
	f := setup(t)
	id := f.publishedEvent(t, 10)

	code, _ := f.do(t, http.MethodPost, "/api/events/"+id+"/sales", map[string]any{"quantity": 6})
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPut, "/api/events/"+id+"/capacity", map[string]any{"capacity": 5})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, http.MethodPut, "/api/events/"+id+"/capacity", map[string]any{"capacity": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/events/"+id+"/refunds", map[string]any{"quantity": 7})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, http.MethodPost, "/api/events/"+id+"/refunds", map[string]any{"quantity": 6})
	assert.Equal(t, http.StatusOK, code)
}

func TestBadRequests(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"name": "x", "unknown": 1}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, _ := f.do(t, http.MethodGet, "/api/events?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodGet, "/api/events/missing/availability?quantity=two", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodGet, "/api/reservations/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListAndSummary(t *testing.T) {
	f := setup(t)
	f.publishedEvent(t, 10)
	f.publishedEvent(t, 20)

	code, env := f.do(t, http.MethodGet, "/api/events?status=published", nil)
	require.Equal(t, http.StatusOK, code)
	var events []models.EventRecord
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 2)

	code, env = f.do(t, http.MethodGet, "/api/statistics/status", nil)
	require.Equal(t, http.StatusOK, code)
	var summary []statistics.StatusCount
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	for _, c := range summary {
		if c.Status == models.StatusPublished {
			assert.Equal(t, 2, c.Count)
		}
	}
}

func TestProtectedRoutesUseAuth(t *testing.T) {
	f := setup(t)
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
		})
	}
	router := f.handler.Router(deny, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay public")
}

func TestManagerRoutesUseRoleGuard(t *testing.T) {
	f := setup(t)
	id := f.publishedEvent(t, 5)
	forbid := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
	router := f.handler.Router(nil, forbid)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/events/"+id+"/capacity", strings.NewReader(`{"capacity": 9}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	body := `{"reservation_id": "checkout-1", "event_id": "` + id + `", "quantity": 1}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rec.Code, "buyers only need to be authenticated")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("event x: %w", models.ErrInsufficientInventory), http.StatusConflict},
		{models.ErrEventNotSellable, http.StatusUnprocessableEntity},
		{models.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: giving up", models.ErrUnavailable), http.StatusServiceUnavailable},
		{models.ErrExpired, http.StatusGone},
		{models.ErrInvalidQuantity, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestStreamAvailability(t *testing.T) {
	f := setup(t)
	id := f.publishedEvent(t, 8)
	f.handler.heartbeat = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/"+id+"/availability/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		f.router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.handler.Emitter.ClientCount(id) == 1 }, time.Second, 5*time.Millisecond)
	_, err := f.handler.Inventory.CommitSale(context.Background(), id, 3)
	require.NoError(t, err)

	// give the stream a moment to write the update before hanging up
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after the client left")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(body, "event: availability"), body)
	assert.Contains(t, body, `"remaining":8`)
	assert.Contains(t, body, `"remaining":5`)
}
