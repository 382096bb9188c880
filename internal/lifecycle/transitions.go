package lifecycle

import "ms-event-inventory/internal/models"

// transitions is the only place the event status graph is defined.
var transitions = map[models.EventStatus][]models.EventStatus{
	models.StatusDraft:     {models.StatusPublished, models.StatusCancelled},
	models.StatusPublished: {models.StatusCancelled, models.StatusCompleted, models.StatusPostponed},
	models.StatusCancelled: {models.StatusDraft, models.StatusPublished},
	models.StatusCompleted: {},
	models.StatusPostponed: {models.StatusPublished, models.StatusCancelled, models.StatusDraft},
}

// Allowed reports whether from -> to is an edge of the status graph.
func Allowed(from, to models.EventStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s models.EventStatus) []models.EventStatus {
	return append([]models.EventStatus{}, transitions[s]...)
}

// Terminal reports whether no transition leaves s.
func Terminal(s models.EventStatus) bool {
	return len(transitions[s]) == 0
}

// removable statuses can be retired with the removed marker.
func removable(s models.EventStatus) bool {
	switch s {
	case models.StatusDraft, models.StatusCancelled, models.StatusCompleted:
		return true
	}
	return false
}
