package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"

	"ms-event-inventory/internal/models"
)

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 20 * time.Millisecond
	defaultMaxBackoff     = 500 * time.Millisecond
)

// Locker serializes work on a key across processes. Lock blocks until the
// key is owned or returns ErrLockBusy once it gives up waiting.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// DB is the EventRecord store. Every counter or status write on an event
// runs inside InEventScope, which is the per-event serialization boundary.
type DB struct {
	Bun *bun.DB

	locker         Locker
	maxRetries     uint64
	initialBackoff time.Duration
}

type Option func(*DB)

// WithLocker adds a distributed per-event lock taken before each transaction.
func WithLocker(l Locker) Option {
	return func(db *DB) { db.locker = l }
}

// WithRetry bounds how often a transient store failure is retried.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(db *DB) {
		db.maxRetries = maxRetries
		db.initialBackoff = initial
	}
}

func New(bunDB *bun.DB, opts ...Option) *DB {
	db := &DB{
		Bun:            bunDB,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

type txKey struct{}

type txState struct {
	tx    bun.Tx
	hooks []func()
}

func txFromContext(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// InTx reports whether ctx carries an open store transaction.
func InTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// idb returns the transaction bound to ctx, or the pool when there is none.
func (db *DB) idb(ctx context.Context) bun.IDB {
	if st := txFromContext(ctx); st != nil {
		return st.tx
	}
	return db.Bun
}

// AfterCommit defers fn until the surrounding transaction commits. It is
// dropped on rollback and runs immediately outside a transaction.
func (db *DB) AfterCommit(ctx context.Context, fn func()) {
	if st := txFromContext(ctx); st != nil {
		st.hooks = append(st.hooks, fn)
		return
	}
	fn()
}

// InEventScope runs fn serialized against every other writer of eventID.
// The distributed lock, when configured, is held only for the transaction;
// after-commit hooks run once it is released.
func (db *DB) InEventScope(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	var hooks []func()
	err := db.retry(ctx, func() error {
		hooks = nil
		if db.locker != nil {
			unlock, err := db.locker.Lock(ctx, "event_lock:"+eventID)
			if err != nil {
				return err
			}
			defer unlock()
		}
		var err error
		hooks, err = db.runTx(ctx, fn)
		return err
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// runTx commits fn and returns the hooks it registered. Hooks of a rolled
// back attempt are discarded.
func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context) error) ([]func(), error) {
	st := &txState{}
	err := db.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		st.tx = tx
		return fn(context.WithValue(ctx, txKey{}, st))
	})
	if err != nil {
		return nil, err
	}
	return st.hooks, nil
}

func (db *DB) retry(ctx context.Context, op func() error) error {
	attempts := 0
	attempt := func() error {
		attempts++
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if db.maxRetries == 0 {
		err = op()
		attempts = 1
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = db.initialBackoff
		b.MaxInterval = defaultMaxBackoff
		b.MaxElapsedTime = 0
		b.Reset()
		err = backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, db.maxRetries), ctx))
	}
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%w: giving up after %d attempts: %v", models.ErrUnavailable, attempts, err)
	}
	return err
}
