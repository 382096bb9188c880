package redislock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-event-inventory/internal/logger"
	"ms-event-inventory/internal/store"
)

// setupTestRedis starts an in-memory Redis and a client pointed at it.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLock_AcquireAndRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := New(client, WithWait(50*time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "event_lock:evt-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("event_lock:evt-1"))

	// A second writer gives up with ErrLockBusy while the key is held
	_, err = l.Lock(ctx, "event_lock:evt-1")
	assert.ErrorIs(t, err, store.ErrLockBusy)

	unlock()
	assert.False(t, mr.Exists("event_lock:evt-1"))

	unlock, err = l.Lock(ctx, "event_lock:evt-1")
	require.NoError(t, err)
	unlock()
}

func TestLock_DifferentEventsDoNotBlock(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := New(client, WithWait(10*time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "event_lock:evt-a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(ctx, "event_lock:evt-b")
	require.NoError(t, err, "locks on different events must be independent")
	unlockB()
}

func TestLock_ExpiredHolderCannotReleaseNextOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := New(client, WithTTL(time.Second), WithWait(10*time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	staleUnlock, err := l.Lock(ctx, "event_lock:evt-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("event_lock:evt-1"), "key should have expired")

	unlock, err := l.Lock(ctx, "event_lock:evt-1")
	require.NoError(t, err)

	staleUnlock()
	assert.True(t, mr.Exists("event_lock:evt-1"), "stale holder must not delete the new owner's key")

	unlock()
	assert.False(t, mr.Exists("event_lock:evt-1"))
}

func TestLock_CancelledContextStopsWaiting(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := New(client, WithWait(time.Minute, 5*time.Millisecond))

	unlock, err := l.Lock(context.Background(), "event_lock:evt-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "event_lock:evt-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_MutualExclusion(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := New(client, WithWait(5*time.Second, time.Millisecond))

	const workers = 10
	var (
		wg      sync.WaitGroup
		inside  int32
		overlap int32
		done    int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "event_lock:shared")
			if err != nil {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			atomic.AddInt32(&done, 1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), overlap, "two holders were inside the lock at once")
	assert.Equal(t, int32(workers), done)
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := Connect(context.Background(), mr.Addr(), logger.NewDiscardLogger())
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = Connect(context.Background(), mr.Addr(), logger.NewDiscardLogger())
	assert.Error(t, err)
}
