package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-event-inventory/internal/inventory"
	"ms-event-inventory/internal/lifecycle"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/reservation"
	"ms-event-inventory/internal/sse"
	"ms-event-inventory/internal/statistics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler maps HTTP requests onto the engines
type Handler struct {
	Lifecycle    *lifecycle.Engine
	Inventory    *inventory.Engine
	Reservations *reservation.Manager
	Statistics   *statistics.Service
	Emitter      *sse.EventEmitter
	Logger       *logger.Logger

	// heartbeat keeps idle availability streams open through proxies
	heartbeat time.Duration
}

// NewHandler creates a new API handler
func NewHandler(lc *lifecycle.Engine, inv *inventory.Engine, res *reservation.Manager, stats *statistics.Service, emitter *sse.EventEmitter, log *logger.Logger) *Handler {
	return &Handler{
		Lifecycle:    lc,
		Inventory:    inv,
		Reservations: res,
		Statistics:   stats,
		Emitter:      emitter,
		Logger:       log,
		heartbeat:    15 * time.Second,
	}
}

// Router builds the chi router. Reads are public; every write goes through
// authMiddleware, and writes that manage events also through
// managerMiddleware. Either may be nil.
func (h *Handler) Router(authMiddleware, managerMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sendJSONResponse(w, http.StatusOK, success(r, "ok", nil))
	})

	// --- Public Routes ---
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", h.ListEvents)
		r.Get("/events/{eventId}", h.GetEvent)
		r.Get("/events/{eventId}/history", h.GetHistory)
		r.Get("/events/{eventId}/availability", h.GetAvailability)
		r.Get("/events/{eventId}/availability/stream", h.StreamAvailability)
		r.Get("/events/{eventId}/statistics", h.GetStatistics)
		r.Get("/statistics/status", h.GetStatusSummary)

		// --- Protected Routes ---
		r.Group(func(r chi.Router) {
			if authMiddleware != nil {
				r.Use(authMiddleware)
			}

			r.Group(func(r chi.Router) {
				if managerMiddleware != nil {
					r.Use(managerMiddleware)
				}
				r.Post("/events", h.CreateEvent)
				r.Post("/events/{eventId}/transitions", h.TransitionEvent)
				r.Delete("/events/{eventId}", h.RemoveEvent)
				r.Put("/events/{eventId}/capacity", h.UpdateCapacity)
				r.Post("/events/{eventId}/sales", h.CommitSale)
				r.Post("/events/{eventId}/refunds", h.ReverseSale)
			})

			r.Post("/reservations", h.CreateReservation)
			r.Get("/reservations/{reservationId}", h.GetReservation)
			r.Post("/reservations/{reservationId}/confirm", h.ConfirmReservation)
			r.Delete("/reservations/{reservationId}", h.CancelReservation)
		})
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// sendJSONResponse is a helper function to send JSON responses
func sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	sendJSONResponse(w, http.StatusBadRequest, failure(r, "bad request", err.Error()))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
