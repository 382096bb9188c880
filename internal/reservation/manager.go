package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/inventory"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify"
	"ms-event-inventory/internal/store"
)

const (
	DefaultTTL       = 10 * time.Minute
	defaultBatchSize = 100
)

// errLostRace rolls back a finalization another writer beat us to.
var errLostRace = errors.New("reservation finalized concurrently")

// Manager owns reservations: time-boxed holds that end exactly once, either
// confirmed into a sale or released.
type Manager struct {
	store     *store.DB
	inventory *inventory.Engine
	clock     clock.Clock
	notifier  notify.Notifier
	logger    *logger.Logger

	defaultTTL time.Duration
	batchSize  int
}

type Option func(*Manager)

// WithDefaultTTL sets the hold duration used when Reserve gets no ttl.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithBatchSize sets how many expired reservations one sweep page reads.
func WithBatchSize(n int) Option {
	return func(m *Manager) { m.batchSize = n }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(db *store.DB, inv *inventory.Engine, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:      db,
		inventory:  inv,
		clock:      clk,
		notifier:   notify.Nop{},
		logger:     logger.NewDiscardLogger(),
		defaultTTL: DefaultTTL,
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.batchSize <= 0 {
		m.batchSize = defaultBatchSize
	}
	return m
}

func (m *Manager) Get(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return m.store.GetReservation(ctx, reservationID)
}

// Reserve holds qty units of an event for ttl under the caller's id. A ttl
// of zero or less uses the default. The hold and the reservation row
// commit together.
func (m *Manager) Reserve(ctx context.Context, eventID string, qty int, reservationID string, ttl time.Duration) (*models.Reservation, error) {
	if reservationID == "" {
		return nil, models.ErrInvalidReservation
	}
	if qty < 1 {
		return nil, fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidQuantity)
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.clock.Now()
	r := &models.Reservation{
		ID:        reservationID,
		EventID:   eventID,
		Quantity:  qty,
		State:     models.ReservationActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	err := m.store.InEventScope(ctx, eventID, func(ctx context.Context) error {
		if _, err := m.store.GetReservation(ctx, reservationID); err == nil {
			return fmt.Errorf("reservation %s: %w", reservationID, models.ErrDuplicateReservation)
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if _, err := m.inventory.Hold(ctx, eventID, qty, inventory.ForReservation(reservationID)); err != nil {
			return err
		}
		return m.store.InsertReservation(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	m.logger.LogReservation("RESERVE", r.ID, fmt.Sprintf("event=%s qty=%d expires=%s", eventID, qty, r.ExpiresAt.Format(time.RFC3339)))
	return r, nil
}

// Confirm turns an active, unexpired reservation into a sale. Held units
// move to sold in the same step, so availability never flickers.
func (m *Manager) Confirm(ctx context.Context, reservationID string) (*models.Reservation, error) {
	now := m.clock.Now()
	return m.finalize(ctx, reservationID, func(ctx context.Context, r *models.Reservation) error {
		switch {
		case r.State == models.ReservationConfirmed:
			return fmt.Errorf("reservation %s is confirmed: %w", r.ID, models.ErrAlreadyFinalized)
		case r.State == models.ReservationReleased && r.ReleaseReason == models.ReleaseExpired:
			return fmt.Errorf("reservation %s was released at expiry: %w", r.ID, models.ErrExpired)
		case r.State == models.ReservationReleased:
			return fmt.Errorf("reservation %s was cancelled: %w", r.ID, models.ErrAlreadyFinalized)
		case r.ExpiredAt(now):
			return fmt.Errorf("reservation %s expired at %s: %w", r.ID, r.ExpiresAt.Format(time.RFC3339), models.ErrExpired)
		}

		if _, err := m.inventory.ConfirmHeld(ctx, r.EventID, r.Quantity, inventory.ForReservation(r.ID)); err != nil {
			return err
		}
		if err := m.markFinal(ctx, r, models.ReservationConfirmed, "", now); err != nil {
			if errors.Is(err, errLostRace) {
				return fmt.Errorf("reservation %s: %w", r.ID, models.ErrAlreadyFinalized)
			}
			return err
		}
		return nil
	})
}

// Cancel releases an active reservation at the caller's request. Cancelling
// a released reservation again is a no-op.
func (m *Manager) Cancel(ctx context.Context, reservationID string) (*models.Reservation, error) {
	now := m.clock.Now()
	return m.finalize(ctx, reservationID, func(ctx context.Context, r *models.Reservation) error {
		switch r.State {
		case models.ReservationReleased:
			return nil
		case models.ReservationConfirmed:
			return fmt.Errorf("reservation %s is confirmed: %w", r.ID, models.ErrAlreadyFinalized)
		}

		if _, err := m.inventory.Release(ctx, r.EventID, r.Quantity, inventory.ForReservation(r.ID)); err != nil {
			return err
		}
		if err := m.markFinal(ctx, r, models.ReservationReleased, models.ReleaseCancelled, now); err != nil {
			if errors.Is(err, errLostRace) {
				return fmt.Errorf("reservation %s: %w", r.ID, models.ErrAlreadyFinalized)
			}
			return err
		}
		return nil
	})
}

// finalize re-reads the reservation under its event's lock and hands the
// fresh copy to fn.
func (m *Manager) finalize(ctx context.Context, reservationID string, fn func(ctx context.Context, r *models.Reservation) error) (*models.Reservation, error) {
	if reservationID == "" {
		return nil, models.ErrInvalidReservation
	}
	r, err := m.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var out *models.Reservation
	err = m.store.InEventScope(ctx, r.EventID, func(ctx context.Context) error {
		if _, err := m.store.LockEvent(ctx, r.EventID); err != nil {
			return err
		}
		cur, err := m.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := fn(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// markFinal records the terminal state and queues the outcome notification.
func (m *Manager) markFinal(ctx context.Context, r *models.Reservation, state models.ReservationState, reason models.ReleaseReason, now time.Time) error {
	won, err := m.store.FinalizeReservation(ctx, r.ID, state, reason, now)
	if err != nil {
		return err
	}
	if !won {
		return errLostRace
	}

	r.State = state
	r.ReleaseReason = reason
	if state == models.ReservationConfirmed {
		r.ConfirmedAt = &now
	} else {
		r.ReleasedAt = &now
	}

	outcome := notify.ReservationFinalized{
		ReservationID: r.ID,
		EventID:       r.EventID,
		Quantity:      r.Quantity,
		State:         state,
		Reason:        reason,
		At:            now,
	}
	m.store.AfterCommit(ctx, func() {
		m.logger.LogReservation(string(state), outcome.ReservationID, fmt.Sprintf("event=%s qty=%d %s", outcome.EventID, outcome.Quantity, outcome.Reason))
		m.notifier.ReservationFinalized(ctx, outcome)
	})
	return nil
}

// ExpireSweep releases every active reservation whose deadline is strictly
// before now and returns how many it released. Reservations finalized by a
// concurrent sweep or confirm are skipped; a failing reservation is logged
// and the sweep moves on.
func (m *Manager) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	now = now.UTC()

	released, failed := 0, 0
	var cursor *store.ExpiryCursor
	for {
		batch, err := m.store.ListExpiredReservations(ctx, now, cursor, m.batchSize)
		if err != nil {
			return released, err
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return released, err
			}
			r := batch[i]
			ok, err := m.expire(ctx, r.ID, r.EventID, now)
			if err != nil {
				failed++
				m.logger.Warn("SWEEP", fmt.Sprintf("Expiry skipped reservation %s: %v", r.ID, err))
				continue
			}
			if ok {
				released++
			}
		}

		if len(batch) < m.batchSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = &store.ExpiryCursor{ExpiresAt: last.ExpiresAt, ID: last.ID}
	}

	m.logger.LogSweep("expire", released, failed, time.Since(started))
	return released, nil
}

func (m *Manager) expire(ctx context.Context, reservationID, eventID string, now time.Time) (bool, error) {
	released := false
	err := m.store.InEventScope(ctx, eventID, func(ctx context.Context) error {
		if _, err := m.store.LockEvent(ctx, eventID); err != nil {
			return err
		}
		r, err := m.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.State != models.ReservationActive || !r.ExpiresAt.Before(now) {
			return nil
		}

		if _, err := m.inventory.Release(ctx, eventID, r.Quantity, inventory.ForReservation(r.ID)); err != nil {
			return err
		}
		if err := m.markFinal(ctx, r, models.ReservationReleased, models.ReleaseExpired, now); err != nil {
			return err
		}
		released = true
		return nil
	})
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	return released, err
}
