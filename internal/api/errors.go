package api

import (
	"errors"
	"fmt"
	"net/http"

	"ms-event-inventory/internal/models"
)

type errorMapping struct {
	err     error
	status  int
	message string
}

// checked in order; the first match wins
var errorMappings = []errorMapping{
	{models.ErrInsufficientInventory, http.StatusConflict, "sold out"},
	{models.ErrEventNotSellable, http.StatusUnprocessableEntity, "cannot be purchased right now"},
	{models.ErrNotFound, http.StatusNotFound, "not found"},
	{models.ErrUnavailable, http.StatusServiceUnavailable, "temporarily unavailable, retry later"},
	{models.ErrInvalidTransition, http.StatusConflict, "transition not allowed"},
	{models.ErrNotPublishable, http.StatusUnprocessableEntity, "event is not ready to publish"},
	{models.ErrTooEarly, http.StatusConflict, "event has not ended yet"},
	{models.ErrInvalidWindow, http.StatusBadRequest, "invalid schedule"},
	{models.ErrUnderflow, http.StatusConflict, "quantity exceeds what was sold or held"},
	{models.ErrBelowSold, http.StatusConflict, "capacity below tickets already committed"},
	{models.ErrOutOfRange, http.StatusBadRequest, "capacity out of range"},
	{models.ErrDuplicateReservation, http.StatusConflict, "reservation already exists"},
	{models.ErrEventExists, http.StatusConflict, "event already exists"},
	{models.ErrExpired, http.StatusGone, "reservation expired"},
	{models.ErrAlreadyFinalized, http.StatusConflict, "reservation already finalized"},
	{models.ErrInvalidQuantity, http.StatusBadRequest, "invalid quantity"},
	{models.ErrInvalidReservation, http.StatusBadRequest, "invalid reservation id"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// sendError writes the mapped status. Unmapped errors are logged and their
// details kept out of the response.
func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s failed: %v", r.Method, r.URL.Path, err))
		detail = ""
	}
	sendJSONResponse(w, status, failure(r, message, detail))
}
