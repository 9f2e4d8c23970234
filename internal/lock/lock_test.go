package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	locker, err := NewRedisLocker("redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })
	return locker, mr
}

func lockers(t *testing.T) map[string]Locker {
	redisLocker, _ := newTestRedisLocker(t, time.Second)
	redisLocker.retry = time.Millisecond
	return map[string]Locker{
		"local": NewLocalLocker(),
		"redis": redisLocker,
	}
}

func TestListingKey(t *testing.T) {
	assert.Equal(t, "listing:42", ListingKey(42))
}

func TestLockIsExclusivePerKey(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				inside  int32
				maxSeen int32
				wg      sync.WaitGroup
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := locker.Lock(ctx, ListingKey(1))
					if !assert.NoError(t, err) {
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						seen := atomic.LoadInt32(&maxSeen)
						if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
		})
	}
}

func TestLockDifferentKeysDoNotBlock(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			unlockA, err := locker.Lock(ctx, ListingKey(1))
			require.NoError(t, err)
			defer unlockA()

			unlockB, err := locker.Lock(ctx, ListingKey(2))
			require.NoError(t, err)
			unlockB()
		})
	}
}

func TestLockHonoursContext(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := locker.Lock(context.Background(), ListingKey(7))
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = locker.Lock(ctx, ListingKey(7))
			require.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestLocalLockerForgetsIdleKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	for id := uint64(1); id <= 100; id++ {
		unlock, err := locker.Lock(ctx, ListingKey(id))
		require.NoError(t, err)
		unlock()
		unlock()
	}
	assert.Equal(t, 0, locker.size())

	unlock, err := locker.Lock(ctx, ListingKey(5))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, ListingKey(5))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locker.size(), "held key stays until unlocked")

	acquired := make(chan func(), 1)
	go func() {
		next, err := locker.Lock(ctx, ListingKey(5))
		if assert.NoError(t, err) {
			acquired <- next
		}
	}()
	time.Sleep(5 * time.Millisecond)
	unlock()

	select {
	case next := <-acquired:
		next()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.Equal(t, 0, locker.size())
}

func TestRedisLockExpiresAfterTTL(t *testing.T) {
	locker, mr := newTestRedisLocker(t, 50*time.Millisecond)

	_, err := locker.Lock(context.Background(), ListingKey(3))
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:listing:3"))

	mr.FastForward(100 * time.Millisecond)
	assert.False(t, mr.Exists("lock:listing:3"))

	unlock, err := locker.Lock(context.Background(), ListingKey(3))
	require.NoError(t, err)
	unlock()
}

func TestRedisUnlockKeepsForeignHold(t *testing.T) {
	locker, mr := newTestRedisLocker(t, time.Second)

	unlock, err := locker.Lock(context.Background(), ListingKey(4))
	require.NoError(t, err)

	// Simulate the hold expiring and another replica taking it.
	require.NoError(t, mr.Set("lock:listing:4", "someone-else"))
	unlock()

	value, err := mr.Get("lock:listing:4")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestNewRedisLockerWithClientDefaultsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedisLockerWithClient(client, 0)
	defer locker.Close()

	assert.Equal(t, 10*time.Second, locker.ttl)
	require.NoError(t, locker.Ping(context.Background()))
}

func TestNewRedisLockerRejectsBadURL(t *testing.T) {
	_, err := NewRedisLocker("://bad", time.Second)
	require.Error(t, err)
}
