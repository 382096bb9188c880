package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-event-inventory/internal/auth"
	"ms-event-inventory/internal/lifecycle"
	"ms-event-inventory/internal/models"
)

type transitionRequest struct {
	Status    models.EventStatus `json:"status"`
	StartTime *time.Time         `json:"start_time,omitempty"`
	EndTime   *time.Time         `json:"end_time,omitempty"`
}

type capacityRequest struct {
	Capacity int `json:"capacity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// ListEvents handles GET /api/events?status=&limit=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	status := models.EventStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.badRequest(w, r, fmt.Errorf("unknown status %q", status))
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	events, err := h.Lifecycle.List(r.Context(), status, limit)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "events retrieved", events))
}

// eventView adds the statuses the event may move to next.
type eventView struct {
	*models.EventRecord
	NextStatuses []models.EventStatus `json:"next_statuses"`
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Lifecycle.Get(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	view := eventView{EventRecord: ev, NextStatuses: lifecycle.NextStatuses(ev.Status)}
	sendJSONResponse(w, http.StatusOK, success(r, "event retrieved", view))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Lifecycle.History(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "history retrieved", history))
}

// CreateEvent handles POST /api/events; the event starts in draft.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.NewEvent
	if err := decodeJSON(w, r, &in); err != nil {
		h.badRequest(w, r, err)
		return
	}

	ev, err := h.Lifecycle.Create(r.Context(), in)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Event %s created by %q", ev.ID, auth.UserID(r.Context())))
	sendJSONResponse(w, http.StatusCreated, success(r, "event created", ev))
}

// TransitionEvent handles POST /api/events/{eventId}/transitions
func (h *Handler) TransitionEvent(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	var opts []lifecycle.TransitionOption
	switch {
	case req.StartTime != nil && req.EndTime != nil:
		opts = append(opts, lifecycle.WithSchedule(*req.StartTime, *req.EndTime))
	case req.StartTime != nil || req.EndTime != nil:
		h.badRequest(w, r, fmt.Errorf("start_time and end_time must be given together"))
		return
	}

	ev, err := h.Lifecycle.Transition(r.Context(), chi.URLParam(r, "eventId"), req.Status, opts...)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "event transitioned", ev))
}

func (h *Handler) RemoveEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Remove(r.Context(), chi.URLParam(r, "eventId")); err != nil {
		h.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAvailability handles GET /api/events/{eventId}/availability?quantity=
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	qty, err := queryInt(r, "quantity", 1)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	a, err := h.Inventory.CheckAvailability(r.Context(), chi.URLParam(r, "eventId"), qty)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "availability retrieved", a))
}

func (h *Handler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	a, err := h.Inventory.UpdateCapacity(r.Context(), chi.URLParam(r, "eventId"), req.Capacity)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "capacity updated", a))
}

// CommitSale handles POST /api/events/{eventId}/sales for sales that skip
// the reservation step.
func (h *Handler) CommitSale(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	a, err := h.Inventory.CommitSale(r.Context(), chi.URLParam(r, "eventId"), req.Quantity)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "sale committed", a))
}

func (h *Handler) ReverseSale(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	a, err := h.Inventory.ReverseSale(r.Context(), chi.URLParam(r, "eventId"), req.Quantity)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "sale reversed", a))
}

func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Statistics.EventStatistics(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "statistics retrieved", stats))
}

func (h *Handler) GetStatusSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Statistics.StatusSummary(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, success(r, "status summary retrieved", summary))
}
