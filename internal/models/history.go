package models

import (
	"time"

	"github.com/uptrace/bun"
)

// StatusChange records one applied lifecycle transition.
type StatusChange struct {
	bun.BaseModel `bun:"table:event_status_history,alias:h"`

	ID      int64       `bun:"id,pk,autoincrement" json:"id"`
	EventID string      `bun:"event_id,notnull" json:"event_id"`
	From    EventStatus `bun:"from_status,notnull" json:"from"`
	To      EventStatus `bun:"to_status,notnull" json:"to"`
	At      time.Time   `bun:"changed_at,notnull" json:"at"`
}

type MovementKind string

const (
	MovementHold     MovementKind = "hold"
	MovementRelease  MovementKind = "release"
	MovementSale     MovementKind = "sale"
	MovementConfirm  MovementKind = "confirm"
	MovementReverse  MovementKind = "reverse"
	MovementCapacity MovementKind = "capacity"
)

// InventoryMovement is an append-only ledger row written alongside every
// counter mutation. For capacity changes Quantity holds the new capacity.
type InventoryMovement struct {
	bun.BaseModel `bun:"table:inventory_movements,alias:m"`

	ID            int64        `bun:"id,pk,autoincrement" json:"id"`
	EventID       string       `bun:"event_id,notnull" json:"event_id"`
	Kind          MovementKind `bun:"kind,notnull" json:"kind"`
	Quantity      int          `bun:"quantity,notnull" json:"quantity"`
	ReservationID string       `bun:"reservation_id,nullzero" json:"reservation_id,omitempty"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
}
