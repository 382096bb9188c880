package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type reservationRequest struct {
	ReservationID string `json:"reservation_id"`
	EventID       string `json:"event_id"`
	Quantity      int    `json:"quantity"`
	// TTLSeconds of zero uses the configured default.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// CreateReservation handles POST /api/reservations. The caller supplies the
// id, typically its checkout id, so a retried request is detected.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	res, err := h.Reservations.Reserve(r.Context(), req.EventID, req.Quantity, req.ReservationID, ttl)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusCreated, success(r, "reservation created", res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.Get(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "reservation retrieved", res))
}

func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.Confirm(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "reservation confirmed", res))
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.Cancel(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "reservation cancelled", res))
}
