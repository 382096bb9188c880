package inventory

import (
	"context"
	"fmt"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify"
	"ms-event-inventory/internal/store"
)

// Engine keeps sold and held against capacity for each event. Every
// mutation re-reads the counters inside the event's serialization scope,
// so sold+held never exceeds capacity whatever the interleaving.
type Engine struct {
	store    *store.DB
	clock    clock.Clock
	notifier notify.Notifier
	logger   *logger.Logger
}

type Option func(*Engine)

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(db *store.DB, clk clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		store:    db,
		clock:    clk,
		notifier: notify.Nop{},
		logger:   logger.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type mutation struct {
	reservationID string
}

type MutationOption func(*mutation)

// ForReservation tags the ledger row with the reservation that caused it.
func ForReservation(id string) MutationOption {
	return func(m *mutation) { m.reservationID = id }
}

// CheckAvailability reports whether qty more units fit. It never writes.
func (e *Engine) CheckAvailability(ctx context.Context, eventID string, qty int) (models.Availability, error) {
	if qty < 1 {
		return models.Availability{}, fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidQuantity)
	}
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return models.Availability{}, err
	}
	return ev.Availability(qty), nil
}

// CommitSale sells qty units outright.
func (e *Engine) CommitSale(ctx context.Context, eventID string, qty int, opts ...MutationOption) (models.Availability, error) {
	return e.mutate(ctx, eventID, models.MovementSale, qty, opts, func(ev *models.EventRecord) (int, error) {
		if err := requireSellable(ev); err != nil {
			return 0, err
		}
		if err := requireFits(ev, qty); err != nil {
			return 0, err
		}
		ev.Sold += qty
		return qty, nil
	})
}

// ReverseSale returns qty sold units to the pool on the refund path.
func (e *Engine) ReverseSale(ctx context.Context, eventID string, qty int, opts ...MutationOption) (models.Availability, error) {
	return e.mutate(ctx, eventID, models.MovementReverse, qty, opts, func(ev *models.EventRecord) (int, error) {
		if ev.Sold < qty {
			return 0, fmt.Errorf("event %s: reverse %d of %d sold: %w", ev.ID, qty, ev.Sold, models.ErrUnderflow)
		}
		ev.Sold -= qty
		return qty, nil
	})
}

// Hold reserves qty units without selling them.
func (e *Engine) Hold(ctx context.Context, eventID string, qty int, opts ...MutationOption) (models.Availability, error) {
	return e.mutate(ctx, eventID, models.MovementHold, qty, opts, func(ev *models.EventRecord) (int, error) {
		if err := requireSellable(ev); err != nil {
			return 0, err
		}
		if err := requireFits(ev, qty); err != nil {
			return 0, err
		}
		ev.Held += qty
		return qty, nil
	})
}

// Release frees up to qty held units. Over-release floors at zero, so a
// duplicate release is a no-op rather than an error.
func (e *Engine) Release(ctx context.Context, eventID string, qty int, opts ...MutationOption) (models.Availability, error) {
	return e.mutate(ctx, eventID, models.MovementRelease, qty, opts, func(ev *models.EventRecord) (int, error) {
		released := qty
		if released > ev.Held {
			released = ev.Held
		}
		ev.Held -= released
		return released, nil
	})
}

// ConfirmHeld turns qty held units into sold units in one step. Holds made
// while published may confirm after the event moved on to postponed or
// completed, but not once it was pulled back to draft or cancelled.
func (e *Engine) ConfirmHeld(ctx context.Context, eventID string, qty int, opts ...MutationOption) (models.Availability, error) {
	return e.mutate(ctx, eventID, models.MovementConfirm, qty, opts, func(ev *models.EventRecord) (int, error) {
		switch ev.Status {
		case models.StatusDraft, models.StatusCancelled:
			return 0, fmt.Errorf("event %s is %s: %w", ev.ID, ev.Status, models.ErrEventNotSellable)
		}
		if ev.Held < qty {
			return 0, fmt.Errorf("event %s: confirm %d of %d held: %w", ev.ID, qty, ev.Held, models.ErrUnderflow)
		}
		ev.Held -= qty
		ev.Sold += qty
		return qty, nil
	})
}

// UpdateCapacity sets a new capacity. It may not drop below what is already
// committed, held units included.
func (e *Engine) UpdateCapacity(ctx context.Context, eventID string, capacity int) (models.Availability, error) {
	if capacity <= 0 || capacity > models.MaxCapacity {
		return models.Availability{}, fmt.Errorf("capacity %d not in 1..%d: %w", capacity, models.MaxCapacity, models.ErrOutOfRange)
	}
	return e.mutate(ctx, eventID, models.MovementCapacity, capacity, nil, func(ev *models.EventRecord) (int, error) {
		if capacity < ev.Sold {
			return 0, fmt.Errorf("event %s: capacity %d below %d sold: %w", ev.ID, capacity, ev.Sold, models.ErrBelowSold)
		}
		if capacity < ev.Sold+ev.Held {
			return 0, fmt.Errorf("event %s: capacity %d below %d sold and %d held: %w", ev.ID, capacity, ev.Sold, ev.Held, models.ErrBelowSold)
		}
		ev.Capacity = capacity
		return capacity, nil
	})
}

// mutate runs fn under the event's serialization scope. fn returns the
// quantity that actually moved; zero skips the ledger row and notification.
func (e *Engine) mutate(ctx context.Context, eventID string, kind models.MovementKind, qty int, opts []MutationOption, fn func(ev *models.EventRecord) (int, error)) (models.Availability, error) {
	if qty < 1 {
		return models.Availability{}, fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidQuantity)
	}
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}

	now := e.clock.Now()
	ev, err := e.store.MutateEvent(ctx, eventID, func(ctx context.Context, ev *models.EventRecord) error {
		moved, err := fn(ev)
		if err != nil || moved == 0 {
			return err
		}
		ev.UpdatedAt = now
		if err := e.store.AppendMovement(ctx, ev.ID, kind, moved, m.reservationID, now); err != nil {
			return err
		}

		availability := ev.Availability(1)
		e.store.AfterCommit(ctx, func() {
			e.logger.LogInventory(string(kind), availability.EventID,
				fmt.Sprintf("qty=%d sold=%d held=%d capacity=%d", moved, availability.Sold, availability.Held, availability.Capacity))
			e.notifier.AvailabilityChanged(ctx, availability)
		})
		return nil
	})
	if err != nil {
		return models.Availability{}, err
	}
	return ev.Availability(1), nil
}

func requireSellable(ev *models.EventRecord) error {
	if ev.Status != models.StatusPublished {
		return fmt.Errorf("event %s is %s: %w", ev.ID, ev.Status, models.ErrEventNotSellable)
	}
	return nil
}

func requireFits(ev *models.EventRecord, qty int) error {
	if !ev.Fits(qty) {
		return fmt.Errorf("event %s: requested %d, %d remaining: %w", ev.ID, qty, ev.Remaining(), models.ErrInsufficientInventory)
	}
	return nil
}
