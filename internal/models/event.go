package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	StatusDraft     EventStatus = "draft"
	StatusPublished EventStatus = "published"
	StatusCancelled EventStatus = "cancelled"
	StatusCompleted EventStatus = "completed"
	StatusPostponed EventStatus = "postponed"
)

// MaxCapacity is the largest number of sellable units an event may declare.
const MaxCapacity = 1_000_000

// Statuses lists every lifecycle status in declaration order.
var Statuses = []EventStatus{StatusDraft, StatusPublished, StatusCancelled, StatusCompleted, StatusPostponed}

func (s EventStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// EventRecord is the authoritative row for an event's lifecycle status and
// ticket counters. Rows are never deleted; RemovedAt retires them.
type EventRecord struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID          string      `bun:"id,pk" json:"id"`
	Name        string      `bun:"name,notnull" json:"name"`
	Location    string      `bun:"location,notnull" json:"location"`
	Status      EventStatus `bun:"status,notnull" json:"status"`
	Capacity    int         `bun:"capacity,notnull" json:"capacity"`
	Sold        int         `bun:"sold,notnull" json:"sold"`
	Held        int         `bun:"held,notnull" json:"held"`
	StartTime   time.Time   `bun:"start_time,notnull" json:"start_time"`
	EndTime     time.Time   `bun:"end_time,notnull" json:"end_time"`
	PublishedAt *time.Time  `bun:"published_at" json:"published_at,omitempty"`
	CompletedAt *time.Time  `bun:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time  `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	RemovedAt   *time.Time  `bun:"removed_at" json:"removed_at,omitempty"`
	Version     int64       `bun:"version,notnull" json:"version"`
	CreatedAt   time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time   `bun:"updated_at,notnull" json:"updated_at"`
}

// Remaining is the number of units neither sold nor held.
func (e *EventRecord) Remaining() int {
	return e.Capacity - e.Sold - e.Held
}

// Fits reports whether qty more units can be sold or held without oversell.
func (e *EventRecord) Fits(qty int) bool {
	return e.Sold+e.Held+qty <= e.Capacity
}

// CheckCounters verifies the counter invariants before a write is persisted.
func (e *EventRecord) CheckCounters() error {
	switch {
	case e.Sold < 0 || e.Held < 0:
		return fmt.Errorf("event %s: negative counters sold=%d held=%d", e.ID, e.Sold, e.Held)
	case e.Sold+e.Held > e.Capacity:
		return fmt.Errorf("event %s: sold=%d held=%d exceed capacity=%d", e.ID, e.Sold, e.Held, e.Capacity)
	}
	return nil
}

func (e *EventRecord) Availability(qty int) Availability {
	remaining := e.Remaining()
	return Availability{
		EventID:   e.ID,
		Status:    e.Status,
		Capacity:  e.Capacity,
		Sold:      e.Sold,
		Held:      e.Held,
		Remaining: remaining,
		Available: qty <= remaining,
	}
}

// Availability is a point-in-time view of an event's inventory.
type Availability struct {
	EventID   string      `json:"event_id"`
	Status    EventStatus `json:"status"`
	Capacity  int         `json:"capacity"`
	Sold      int         `json:"sold"`
	Held      int         `json:"held"`
	Remaining int         `json:"remaining"`
	Available bool        `json:"available"`
}
