package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-event-inventory/internal/clock"
	"ms-event-inventory/internal/lifecycle"
	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify/notifytest"
	"ms-event-inventory/internal/store"
	"ms-event-inventory/internal/store/storetest"
)

var t0 = time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *store.DB
	clock    *clock.Manual
	notifier *notifytest.Recorder
	engine   *lifecycle.Engine
}

func setup(t *testing.T) *fixture {
	db := store.New(storetest.NewSQLite(t), store.WithRetry(2, time.Millisecond))
	clk := clock.NewManual(t0)
	rec := &notifytest.Recorder{}
	return &fixture{
		db:       db,
		clock:    clk,
		notifier: rec,
		engine:   lifecycle.New(db, clk, lifecycle.WithNotifier(rec)),
	}
}

func (f *fixture) draft(t *testing.T) *models.EventRecord {
	ev, err := f.engine.Create(context.Background(), lifecycle.NewEvent{
		Name:      "Night Market Sessions",
		Location:  "Old Town Hall",
		Capacity:  100,
		StartTime: t0.Add(48 * time.Hour),
		EndTime:   t0.Add(52 * time.Hour),
	})
	require.NoError(t, err)
	return ev
}

// forceStatus puts an event into any status without going through the graph.
func (f *fixture) forceStatus(t *testing.T, id string, s models.EventStatus) {
	_, err := f.db.MutateEvent(context.Background(), id, func(ctx context.Context, ev *models.EventRecord) error {
		ev.Status = s
		return nil
	})
	require.NoError(t, err)
}

func TestCreate_StartsInDraft(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, models.StatusDraft, ev.Status)
	assert.Nil(t, ev.PublishedAt)

	got, err := f.engine.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Name, got.Name)
	assert.Equal(t, 100, got.Capacity)
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, lifecycle.NewEvent{Name: "x", Location: "y", Capacity: 0, StartTime: t0, EndTime: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, models.ErrOutOfRange)

	_, err = f.engine.Create(ctx, lifecycle.NewEvent{Name: "x", Location: "y", Capacity: models.MaxCapacity + 1, StartTime: t0, EndTime: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, models.ErrOutOfRange)

	_, err = f.engine.Create(ctx, lifecycle.NewEvent{Name: "x", Location: "y", Capacity: 5, StartTime: t0, EndTime: t0})
	assert.ErrorIs(t, err, models.ErrInvalidWindow)

	_, err = f.engine.Create(ctx, lifecycle.NewEvent{ID: "dup", Name: "x", Location: "y", Capacity: 5, StartTime: t0, EndTime: t0.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, lifecycle.NewEvent{ID: "dup", Name: "x", Location: "y", Capacity: 5, StartTime: t0, EndTime: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, models.ErrEventExists)
}

func TestTransitionTableConformance(t *testing.T) {
	want := map[models.EventStatus][]models.EventStatus{
		models.StatusDraft:     {models.StatusPublished, models.StatusCancelled},
		models.StatusPublished: {models.StatusCancelled, models.StatusCompleted, models.StatusPostponed},
		models.StatusCancelled: {models.StatusDraft, models.StatusPublished},
		models.StatusCompleted: {},
		models.StatusPostponed: {models.StatusPublished, models.StatusCancelled, models.StatusDraft},
	}

	for _, from := range models.Statuses {
		for _, to := range models.Statuses {
			expected := false
			for _, s := range want[from] {
				if s == to {
					expected = true
				}
			}
			assert.Equal(t, expected, lifecycle.Allowed(from, to), "%s -> %s", from, to)
		}
		assert.ElementsMatch(t, want[from], lifecycle.NextStatuses(from))
	}
	assert.True(t, lifecycle.Terminal(models.StatusCompleted))
	assert.False(t, lifecycle.Terminal(models.StatusCancelled))
}

func TestTransition_EveryEdgeThroughTheEngine(t *testing.T) {
	for _, from := range models.Statuses {
		for _, to := range models.Statuses {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := setup(t)
				ev := f.draft(t)
				f.forceStatus(t, ev.ID, from)
				// past the end so Completed is reachable from Published
				if to == models.StatusCompleted {
					f.clock.Set(ev.EndTime)
				}

				got, err := f.engine.Transition(context.Background(), ev.ID, to)
				if lifecycle.Allowed(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
				} else {
					assert.ErrorIs(t, err, models.ErrInvalidTransition)
					stored, err := f.engine.Get(context.Background(), ev.ID)
					require.NoError(t, err)
					assert.Equal(t, from, stored.Status, "rejected transition must not write")
				}
			})
		}
	}
}

func TestPublish_StampsAndRecordsHistory(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)
	ctx := context.Background()

	published, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	assert.True(t, published.PublishedAt.Equal(t0))

	history, err := f.engine.History(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusDraft, history[0].From)
	assert.Equal(t, models.StatusPublished, history[0].To)

	statuses := f.notifier.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.StatusPublished, statuses[0].To)
}

func TestPublish_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("start time in the past", func(t *testing.T) {
		f := setup(t)
		ev := f.draft(t)
		f.clock.Set(ev.StartTime.Add(time.Minute))

		_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
		assert.ErrorIs(t, err, models.ErrNotPublishable)
		assert.Contains(t, err.Error(), "start_time")
	})

	t.Run("start time exactly now", func(t *testing.T) {
		f := setup(t)
		ev := f.draft(t)
		f.clock.Set(ev.StartTime)

		_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
		assert.ErrorIs(t, err, models.ErrNotPublishable)
	})

	t.Run("missing location", func(t *testing.T) {
		f := setup(t)
		ev, err := f.engine.Create(ctx, lifecycle.NewEvent{
			Name: "No Venue Yet", Capacity: 10,
			StartTime: t0.Add(time.Hour), EndTime: t0.Add(2 * time.Hour),
		})
		require.NoError(t, err)

		_, err = f.engine.Transition(ctx, ev.ID, models.StatusPublished)
		assert.ErrorIs(t, err, models.ErrNotPublishable)
		assert.Contains(t, err.Error(), "location")
		assert.Empty(t, f.notifier.Statuses(), "failed transitions are not announced")
	})
}

func TestComplete_TooEarly(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)
	ctx := context.Background()
	_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)

	f.clock.Set(ev.EndTime.Add(-time.Second))
	_, err = f.engine.Transition(ctx, ev.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrTooEarly)

	f.clock.Set(ev.EndTime)
	done, err := f.engine.Transition(ctx, ev.ID, models.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	_, err = f.engine.Transition(ctx, ev.ID, models.StatusDraft)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "completed is terminal")
}

func TestCancel_LeavesCountersAlone(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)
	ctx := context.Background()
	_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)
	_, err = f.db.MutateEvent(ctx, ev.ID, func(ctx context.Context, e *models.EventRecord) error {
		e.Sold, e.Held = 7, 3
		return nil
	})
	require.NoError(t, err)

	cancelled, err := f.engine.Transition(ctx, ev.ID, models.StatusCancelled)
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 7, cancelled.Sold)
	assert.Equal(t, 3, cancelled.Held)

	// re-activation is allowed
	again, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, again.Status)
}

func TestPostpone_Schedule(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)
	ctx := context.Background()
	_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)

	newStart := t0.Add(30 * 24 * time.Hour)
	_, err = f.engine.Transition(ctx, ev.ID, models.StatusPostponed, lifecycle.WithSchedule(newStart, newStart))
	assert.ErrorIs(t, err, models.ErrInvalidWindow)

	postponed, err := f.engine.Transition(ctx, ev.ID, models.StatusPostponed, lifecycle.WithSchedule(newStart, newStart.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.True(t, postponed.StartTime.Equal(newStart))
	assert.True(t, postponed.EndTime.Equal(newStart.Add(3*time.Hour)))

	_, err = f.engine.Transition(ctx, ev.ID, models.StatusPublished, lifecycle.WithSchedule(newStart, newStart.Add(time.Hour)))
	assert.ErrorIs(t, err, models.ErrInvalidWindow, "schedule is only taken when postponing")

	republished, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, republished.Status)

	history, err := f.engine.History(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestPostpone_KeepsCurrentWindowWithoutSchedule(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)
	ctx := context.Background()
	_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
	require.NoError(t, err)

	postponed, err := f.engine.Transition(ctx, ev.ID, models.StatusPostponed)
	require.NoError(t, err)
	assert.True(t, postponed.StartTime.Equal(ev.StartTime))
}

func TestTransition_UnknownStatusAndMissingEvent(t *testing.T) {
	f := setup(t)
	ev := f.draft(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, ev.ID, models.EventStatus("archived"))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.engine.Transition(ctx, "missing", models.StatusPublished)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRemove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	live := f.draft(t)
	_, err := f.engine.Transition(ctx, live.ID, models.StatusPublished)
	require.NoError(t, err)
	err = f.engine.Remove(ctx, live.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "published events cannot be removed")

	draft := f.draft(t)
	require.NoError(t, f.engine.Remove(ctx, draft.ID))
	_, err = f.engine.Get(ctx, draft.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	events, err := f.engine.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, live.ID, events[0].ID)
}

func TestAutoCompleteExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var ended []string
	for i := 0; i < 3; i++ {
		ev := f.draft(t)
		_, err := f.engine.Transition(ctx, ev.ID, models.StatusPublished)
		require.NoError(t, err)
		ended = append(ended, ev.ID)
	}
	future, err := f.engine.Create(ctx, lifecycle.NewEvent{
		Name: "Later", Location: "Annex", Capacity: 5,
		StartTime: t0.Add(90 * 24 * time.Hour), EndTime: t0.Add(91 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, future.ID, models.StatusPublished)
	require.NoError(t, err)

	// Corrupt one row so its completion write fails the counter check.
	_, err = f.db.Bun.NewUpdate().
		Model((*models.EventRecord)(nil)).
		Set("sold = ?", 500).
		Where("id = ?", ended[1]).
		Exec(ctx)
	require.NoError(t, err)

	now := t0.Add(53 * time.Hour)
	n, err := f.engine.AutoCompleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the broken event is skipped, not fatal")

	for i, id := range ended {
		ev, err := f.engine.Get(ctx, id)
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, models.StatusPublished, ev.Status)
			continue
		}
		assert.Equal(t, models.StatusCompleted, ev.Status)
		require.NotNil(t, ev.CompletedAt)
		assert.True(t, ev.CompletedAt.Equal(now))
	}

	stillLive, err := f.engine.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, stillLive.Status)

	// A second run only retries the stuck event.
	n, err = f.engine.AutoCompleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
