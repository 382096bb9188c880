package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun/dialect"

	"ms-event-inventory/internal/models"
)

func (db *DB) CreateEvent(ctx context.Context, ev *models.EventRecord) error {
	_, err := db.idb(ctx).NewInsert().Model(ev).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", ev.ID, models.ErrEventExists)
		}
		return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEvent reads an event without locking it. Removed events are not found.
func (db *DB) GetEvent(ctx context.Context, id string) (*models.EventRecord, error) {
	ev := new(models.EventRecord)
	err := db.idb(ctx).NewSelect().
		Model(ev).
		Where("id = ?", id).
		Where("removed_at IS NULL").
		Scan(ctx)
	if err != nil {
		return nil, eventErr(id, err)
	}
	return ev, nil
}

// LockEvent reads an event inside the current transaction, taking its row
// lock where the dialect supports it. Callers re-read through LockEvent
// rather than trusting values read before the scope opened.
func (db *DB) LockEvent(ctx context.Context, id string) (*models.EventRecord, error) {
	ev := new(models.EventRecord)
	q := db.idb(ctx).NewSelect().
		Model(ev).
		Where("id = ?", id).
		Where("removed_at IS NULL")
	if InTx(ctx) && db.Bun.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, eventErr(id, err)
	}
	return ev, nil
}

// MutateEvent is the read-modify-write primitive for an event row. fn sees a
// fresh copy and may return a business error to abort; the write is
// rejected if it would break the counter invariants and is guarded by a
// version check so a concurrent writer forces a replay.
func (db *DB) MutateEvent(ctx context.Context, id string, fn func(ctx context.Context, ev *models.EventRecord) error) (*models.EventRecord, error) {
	var out *models.EventRecord
	err := db.InEventScope(ctx, id, func(ctx context.Context) error {
		ev, err := db.LockEvent(ctx, id)
		if err != nil {
			return err
		}
		version := ev.Version
		if err := fn(ctx, ev); err != nil {
			return err
		}
		if err := ev.CheckCounters(); err != nil {
			return err
		}

		ev.Version = version + 1
		res, err := db.idb(ctx).NewUpdate().
			Model(ev).
			ExcludeColumn("id", "created_at").
			Where("id = ?", id).
			Where("version = ?", version).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update event %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errConflict
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents returns live events, optionally filtered by status, newest first.
func (db *DB) ListEvents(ctx context.Context, status models.EventStatus, limit int) ([]models.EventRecord, error) {
	var events []models.EventRecord
	q := db.idb(ctx).NewSelect().
		Model(&events).
		Where("removed_at IS NULL").
		OrderExpr("created_at DESC").
		Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListPublishedEndedBy returns the ids of published events whose end time is
// at or before now.
func (db *DB) ListPublishedEndedBy(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := db.idb(ctx).NewSelect().
		Model((*models.EventRecord)(nil)).
		Column("id").
		Where("status = ?", models.StatusPublished).
		Where("end_time <= ?", now.UTC()).
		Where("removed_at IS NULL").
		OrderExpr("end_time ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list ended events: %w", err)
	}
	return ids, nil
}

func eventErr(id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("failed to load event %s: %w", id, err)
}
