package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify"
	"ms-event-inventory/internal/store"
)

// Engine validates and applies event status transitions.
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

// NewEvent holds the attributes an event-management caller supplies when
// creating a draft. ID is generated when empty.
type NewEvent struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Capacity  int       `json:"capacity"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Create stores a new event in Draft.
func (e *Engine) Create(ctx context.Context, in NewEvent) (*models.EventRecord, error) {
	if in.Capacity <= 0 || in.Capacity > models.MaxCapacity {
		return nil, fmt.Errorf("capacity %d not in 1..%d: %w", in.Capacity, models.MaxCapacity, models.ErrOutOfRange)
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, fmt.Errorf("end_time %s not after start_time %s: %w",
			in.EndTime.Format(time.RFC3339), in.StartTime.Format(time.RFC3339), models.ErrInvalidWindow)
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.clock.Now()
	ev := &models.EventRecord{
		ID:        id,
		Name:      strings.TrimSpace(in.Name),
		Location:  strings.TrimSpace(in.Location),
		Status:    models.StatusDraft,
		Capacity:  in.Capacity,
		StartTime: in.StartTime.UTC(),
		EndTime:   in.EndTime.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}
	e.logger.LogLifecycle(ev.ID, "", string(ev.Status))
	return ev, nil
}

func (e *Engine) Get(ctx context.Context, eventID string) (*models.EventRecord, error) {
	return e.store.GetEvent(ctx, eventID)
}

func (e *Engine) List(ctx context.Context, status models.EventStatus, limit int) ([]models.EventRecord, error) {
	return e.store.ListEvents(ctx, status, limit)
}

// History returns every applied transition of an event, oldest first.
func (e *Engine) History(ctx context.Context, eventID string) ([]models.StatusChange, error) {
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return e.store.ListStatusHistory(ctx, eventID)
}

type transitionParams struct {
	start, end *time.Time
}

type TransitionOption func(*transitionParams)

// WithSchedule supplies a new window when postponing.
func WithSchedule(start, end time.Time) TransitionOption {
	return func(p *transitionParams) {
		s, en := start.UTC(), end.UTC()
		p.start, p.end = &s, &en
	}
}

// Transition moves an event to target. The status, its timestamp stamp and
// the history row commit together.
func (e *Engine) Transition(ctx context.Context, eventID string, target models.EventStatus, opts ...TransitionOption) (*models.EventRecord, error) {
	var p transitionParams
	for _, opt := range opts {
		opt(&p)
	}
	return e.transition(ctx, eventID, target, e.clock.Now(), p)
}

func (e *Engine) transition(ctx context.Context, eventID string, target models.EventStatus, now time.Time, p transitionParams) (*models.EventRecord, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", target, models.ErrInvalidTransition)
	}
	now = now.UTC()

	return e.store.MutateEvent(ctx, eventID, func(ctx context.Context, ev *models.EventRecord) error {
		from := ev.Status
		if err := apply(ev, target, now, p); err != nil {
			return err
		}
		if err := e.store.AppendStatusChange(ctx, ev.ID, from, target, now); err != nil {
			return err
		}

		change := notify.StatusChanged{EventID: ev.ID, From: from, To: target, At: now}
		e.store.AfterCommit(ctx, func() {
			e.logger.LogLifecycle(change.EventID, string(change.From), string(change.To))
			e.notifier.StatusChanged(ctx, change)
		})
		return nil
	})
}

func apply(ev *models.EventRecord, target models.EventStatus, now time.Time, p transitionParams) error {
	if !Allowed(ev.Status, target) {
		return fmt.Errorf("event %s: %s -> %s: %w", ev.ID, ev.Status, target, models.ErrInvalidTransition)
	}
	if p.start != nil && target != models.StatusPostponed {
		return fmt.Errorf("event %s: a new schedule is only accepted when postponing: %w", ev.ID, models.ErrInvalidWindow)
	}

	switch target {
	case models.StatusPublished:
		if err := checkPublishable(ev, now); err != nil {
			return err
		}
		ev.PublishedAt = &now
	case models.StatusCompleted:
		if now.Before(ev.EndTime) {
			return fmt.Errorf("event %s ends at %s: %w", ev.ID, ev.EndTime.Format(time.RFC3339), models.ErrTooEarly)
		}
		ev.CompletedAt = &now
	case models.StatusCancelled:
		ev.CancelledAt = &now
	case models.StatusPostponed:
		start, end := ev.StartTime, ev.EndTime
		if p.start != nil {
			start, end = *p.start, *p.end
		}
		if !end.After(start) {
			return fmt.Errorf("event %s: end_time %s not after start_time %s: %w",
				ev.ID, end.Format(time.RFC3339), start.Format(time.RFC3339), models.ErrInvalidWindow)
		}
		ev.StartTime, ev.EndTime = start, end
	}

	ev.Status = target
	ev.UpdatedAt = now
	return nil
}

func checkPublishable(ev *models.EventRecord, now time.Time) error {
	var problems []string
	if !ev.StartTime.After(now) {
		problems = append(problems, "start_time is not in the future")
	}
	if ev.Capacity <= 0 {
		problems = append(problems, "capacity must be positive")
	}
	if strings.TrimSpace(ev.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if strings.TrimSpace(ev.Location) == "" {
		problems = append(problems, "location is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("event %s: %s: %w", ev.ID, strings.Join(problems, "; "), models.ErrNotPublishable)
	}
	return nil
}

// Remove retires an event with the removed marker. Only events that can no
// longer sell and hold nothing may be removed.
func (e *Engine) Remove(ctx context.Context, eventID string) error {
	now := e.clock.Now()
	_, err := e.store.MutateEvent(ctx, eventID, func(ctx context.Context, ev *models.EventRecord) error {
		if !removable(ev.Status) {
			return fmt.Errorf("event %s is %s and cannot be removed: %w", ev.ID, ev.Status, models.ErrInvalidTransition)
		}
		if ev.Held > 0 {
			return fmt.Errorf("event %s still has %d held tickets: %w", ev.ID, ev.Held, models.ErrInvalidTransition)
		}
		ev.RemovedAt = &now
		ev.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("LIFECYCLE", fmt.Sprintf("Event %s removed", eventID))
	return nil
}

// AutoCompleteExpired completes every published event whose end time is at
// or before now. A failing event is logged and skipped; the count of
// completed events is returned.
func (e *Engine) AutoCompleteExpired(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	ids, err := e.store.ListPublishedEndedBy(ctx, now)
	if err != nil {
		return 0, err
	}

	completed, failed := 0, 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		if _, err := e.transition(ctx, id, models.StatusCompleted, now, transitionParams{}); err != nil {
			failed++
			e.logger.Warn("SWEEP", fmt.Sprintf("Auto-complete skipped event %s: %v", id, err))
			continue
		}
		completed++
	}
	e.logger.LogSweep("auto-complete", completed, failed, time.Since(started))
	return completed, nil
}
