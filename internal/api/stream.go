package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-event-inventory/internal/sse"
)

// StreamAvailability handles GET /api/events/{eventId}/availability/stream.
// It sends the current availability, then every committed change until the
// client goes away.
func (h *Handler) StreamAvailability(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	eventID := chi.URLParam(r, "eventId")
	ctx := r.Context()

	// subscribe before the snapshot so no change falls between them
	updates := h.Emitter.Subscribe(ctx, eventID)
	snapshot, err := h.Inventory.CheckAvailability(ctx, eventID, 1)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, sse.Update{Kind: sse.KindAvailability, Data: snapshot}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, open := <-updates:
			if !open {
				return
			}
			if err := writeSSE(w, u); err != nil {
				h.Logger.Debug("SSE", fmt.Sprintf("Client for event %s dropped: %v", eventID, err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, u sse.Update) error {
	data, err := json.Marshal(u.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Kind, data)
	return err
}
