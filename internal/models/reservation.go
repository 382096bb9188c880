package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationState string

const (
	ReservationActive    ReservationState = "active"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationReleased  ReservationState = "released"
)

type ReleaseReason string

const (
	ReleaseExpired   ReleaseReason = "expired"
	ReleaseCancelled ReleaseReason = "cancelled"
)

// Reservation is a time-boxed hold on an event's inventory. It leaves the
// active state exactly once.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID            string           `bun:"id,pk" json:"id"`
	EventID       string           `bun:"event_id,notnull" json:"event_id"`
	Quantity      int              `bun:"quantity,notnull" json:"quantity"`
	State         ReservationState `bun:"state,notnull" json:"state"`
	ReleaseReason ReleaseReason    `bun:"release_reason,nullzero" json:"release_reason,omitempty"`
	ExpiresAt     time.Time        `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time        `bun:"created_at,notnull" json:"created_at"`
	ConfirmedAt   *time.Time       `bun:"confirmed_at" json:"confirmed_at,omitempty"`
	ReleasedAt    *time.Time       `bun:"released_at" json:"released_at,omitempty"`
}

func (r *Reservation) Final() bool {
	return r.State != ReservationActive
}

// ExpiredAt reports whether the hold can no longer be confirmed at now.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
