package sweeper

import (
	"context"
	"fmt"
	"time"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/logger"
)

// EventCompleter completes published events whose end time has passed.
type EventCompleter interface {
	AutoCompleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ReservationExpirer releases active reservations past their deadline.
type ReservationExpirer interface {
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs both sweeps on a fixed interval. Running several sweepers
// against the same database is safe; each item is finalized once.
type Sweeper struct {
	events       EventCompleter
	reservations ReservationExpirer
	clock        clock.Clock
	interval     time.Duration
	logger       *logger.Logger
}

func New(events EventCompleter, reservations ReservationExpirer, clk clock.Clock, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		events:       events,
		reservations: reservations,
		clock:        clk,
		interval:     interval,
		logger:       log,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("SWEEP", fmt.Sprintf("Sweeper started, interval %s", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("SWEEP", "Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one pass of each sweep. Errors are logged; the next tick
// retries.
func (s *Sweeper) RunOnce(ctx context.Context) (expired, completed int) {
	now := s.clock.Now()

	expired, err := s.reservations.ExpireSweep(ctx, now)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("SWEEP", fmt.Sprintf("Reservation expiry failed after %d released: %v", expired, err))
	}

	completed, err = s.events.AutoCompleteExpired(ctx, now)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("SWEEP", fmt.Sprintf("Event auto-complete failed after %d completed: %v", completed, err))
	}
	return expired, completed
}
