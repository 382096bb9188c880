package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-event-inventory/internal/models"
)

// AppendStatusChange writes a history row in the caller's transaction.
func (db *DB) AppendStatusChange(ctx context.Context, eventID string, from, to models.EventStatus, at time.Time) error {
	row := &models.StatusChange{
		EventID: eventID,
		From:    from,
		To:      to,
		At:      at.UTC(),
	}
	if _, err := db.idb(ctx).NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record status change for event %s: %w", eventID, err)
	}
	return nil
}

func (db *DB) ListStatusHistory(ctx context.Context, eventID string) ([]models.StatusChange, error) {
	var rows []models.StatusChange
	err := db.idb(ctx).NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history for event %s: %w", eventID, err)
	}
	return rows, nil
}

// AppendMovement writes an inventory ledger row in the caller's transaction.
func (db *DB) AppendMovement(ctx context.Context, eventID string, kind models.MovementKind, qty int, reservationID string, at time.Time) error {
	row := &models.InventoryMovement{
		EventID:       eventID,
		Kind:          kind,
		Quantity:      qty,
		ReservationID: reservationID,
		CreatedAt:     at.UTC(),
	}
	if _, err := db.idb(ctx).NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record %s movement for event %s: %w", kind, eventID, err)
	}
	return nil
}

// ListMovements returns ledger rows for an event, optionally limited to kinds.
func (db *DB) ListMovements(ctx context.Context, eventID string, kinds ...models.MovementKind) ([]models.InventoryMovement, error) {
	var rows []models.InventoryMovement
	q := db.idb(ctx).NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		OrderExpr("id ASC")
	if len(kinds) > 0 {
		q = q.Where("kind IN (?)", bun.In(kinds))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load movements for event %s: %w", eventID, err)
	}
	return rows, nil
}
