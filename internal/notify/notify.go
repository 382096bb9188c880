// Package notify carries post-commit domain events out of the engines.
// Delivery is best effort: a notifier failure never undoes a committed
// write, so implementations log and swallow their own errors.
package notify

import (
	"context"
	"time"

	"ms-event-inventory/internal/models"
)

type StatusChanged struct {
	EventID string             `json:"event_id"`
	From    models.EventStatus `json:"from"`
	To      models.EventStatus `json:"to"`
	At      time.Time          `json:"at"`
}

type ReservationFinalized struct {
	ReservationID string                  `json:"reservation_id"`
	EventID       string                  `json:"event_id"`
	Quantity      int                     `json:"quantity"`
	State         models.ReservationState `json:"state"`
	Reason        models.ReleaseReason    `json:"reason,omitempty"`
	At            time.Time               `json:"at"`
}

type Notifier interface {
	StatusChanged(ctx context.Context, change StatusChanged)
	AvailabilityChanged(ctx context.Context, availability models.Availability)
	ReservationFinalized(ctx context.Context, outcome ReservationFinalized)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) StatusChanged(context.Context, StatusChanged)               {}
func (Nop) AvailabilityChanged(context.Context, models.Availability)   {}
func (Nop) ReservationFinalized(context.Context, ReservationFinalized) {}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) StatusChanged(ctx context.Context, change StatusChanged) {
	for _, n := range m {
		n.StatusChanged(ctx, change)
	}
}

func (m Multi) AvailabilityChanged(ctx context.Context, availability models.Availability) {
	for _, n := range m {
		n.AvailabilityChanged(ctx, availability)
	}
}

func (m Multi) ReservationFinalized(ctx context.Context, outcome ReservationFinalized) {
	for _, n := range m {
		n.ReservationFinalized(ctx, outcome)
	}
}
