package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-event-inventory/internal/models"
)

func (db *DB) InsertReservation(ctx context.Context, r *models.Reservation) error {
	_, err := db.idb(ctx).NewInsert().Model(r).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reservation %s: %w", r.ID, models.ErrDuplicateReservation)
		}
		return fmt.Errorf("failed to insert reservation %s: %w", r.ID, err)
	}
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r := new(models.Reservation)
	err := db.idb(ctx).NewSelect().Model(r).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return r, nil
}

// FinalizeReservation moves an active reservation to a terminal state. It
// reports false when another writer finalized it first.
func (db *DB) FinalizeReservation(ctx context.Context, id string, state models.ReservationState, reason models.ReleaseReason, at time.Time) (bool, error) {
	q := db.idb(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("state = ?", state).
		Where("id = ?", id).
		Where("state = ?", models.ReservationActive)
	if state == models.ReservationConfirmed {
		q = q.Set("confirmed_at = ?", at.UTC())
	} else {
		q = q.Set("released_at = ?", at.UTC()).Set("release_reason = ?", reason)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to finalize reservation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to finalize reservation %s: %w", id, err)
	}
	return n == 1, nil
}

// ExpiryCursor marks the last reservation a sweep page ended on.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

// ListExpiredReservations returns active reservations whose deadline is
// strictly before now, ordered by deadline then id and starting after the
// cursor when one is given.
func (db *DB) ListExpiredReservations(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]models.Reservation, error) {
	var rs []models.Reservation
	q := db.idb(ctx).NewSelect().
		Model(&rs).
		Where("state = ?", models.ReservationActive).
		Where("expires_at < ?", now.UTC()).
		OrderExpr("expires_at ASC, id ASC").
		Limit(limit)
	if after != nil {
		at := after.ExpiresAt.UTC()
		q = q.Where("(expires_at > ? OR (expires_at = ? AND id > ?))", at, at, after.ID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	return rs, nil
}

func (db *DB) CountActiveReservations(ctx context.Context, eventID string) (int, error) {
	n, err := db.idb(ctx).NewSelect().
		Model((*models.Reservation)(nil)).
		Where("event_id = ?", eventID).
		Where("state = ?", models.ReservationActive).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count reservations for event %s: %w", eventID, err)
	}
	return n, nil
}
