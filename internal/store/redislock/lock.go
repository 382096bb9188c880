package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-event-inventory/internal/store"
)

const (
	defaultTTL  = 10 * time.Second
	defaultWait = 3 * time.Second
	defaultPoll = 25 * time.Millisecond
)

// unlockScript deletes the key only while it still carries our token, so a
// holder whose lock already expired cannot release the next owner's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a SETNX based mutex keyed per event.
type Locker struct {
	Client *redis.Client

	ttl  time.Duration
	wait time.Duration
	poll time.Duration
}

type Option func(*Locker)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

// WithWait sets how long Lock keeps polling before returning ErrLockBusy.
func WithWait(wait, poll time.Duration) Option {
	return func(l *Locker) {
		l.wait = wait
		l.poll = poll
	}
}

func New(client *redis.Client, opts ...Option) *Locker {
	l := &Locker{
		Client: client,
		ttl:    defaultTTL,
		wait:   defaultWait,
		poll:   defaultPoll,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ store.Locker = (*Locker)(nil)

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
		}
		if ok {
			return func() { l.unlock(key, token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%s: %w", key, store.ErrLockBusy)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// unlock runs detached from the request context so a cancelled caller
// still frees the key.
func (l *Locker) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = unlockScript.Run(ctx, l.Client, []string{key}, token).Err()
}
