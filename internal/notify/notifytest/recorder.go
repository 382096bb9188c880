// Package notifytest records notifications for assertions in engine tests.
package notifytest

import (
	"context"
	"sync"

	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify"
)

type Recorder struct {
	mu           sync.Mutex
	statuses     []notify.StatusChanged
	availability []models.Availability
	outcomes     []notify.ReservationFinalized
}

var _ notify.Notifier = (*Recorder)(nil)

func (r *Recorder) StatusChanged(_ context.Context, change notify.StatusChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, change)
}

func (r *Recorder) AvailabilityChanged(_ context.Context, a models.Availability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability = append(r.availability, a)
}

func (r *Recorder) ReservationFinalized(_ context.Context, outcome notify.ReservationFinalized) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *Recorder) Statuses() []notify.StatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.StatusChanged(nil), r.statuses...)
}

func (r *Recorder) Availability() []models.Availability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Availability(nil), r.availability...)
}

func (r *Recorder) Outcomes() []notify.ReservationFinalized {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.ReservationFinalized(nil), r.outcomes...)
}
