package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salesforce-router/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedsyncLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(context.Background(), &redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewRedsyncLocker(client, "router:")
	require.NoError(t, err)
	locker.tries = 20
	locker.delay = 10 * time.Millisecond
	return locker, mr
}

func TestNewRedsyncLocker_RequiresClient(t *testing.T) {
	_, err := NewRedsyncLocker(nil, "")
	assert.Error(t, err)
}

func TestAcquireAndRelease(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	lock, err := locker.AcquireLock(ctx, "token-refresh", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "token-refresh", lock.Key())
	assert.True(t, mr.Exists("router:lock:token-refresh"))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("router:lock:token-refresh"))
}

func TestContention(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	held, err := locker.AcquireLock(ctx, "token-refresh", 10*time.Second)
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.AcquireLock(shortCtx, "token-refresh", 10*time.Second)
	assert.Error(t, err, "second holder must wait")

	require.NoError(t, held.Release(ctx))

	again, err := locker.AcquireLock(ctx, "token-refresh", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMutualExclusion(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := locker.AcquireLock(ctx, "critical", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, lock.Release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestReleaseAfterExpiry(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	lock, err := locker.AcquireLock(ctx, "token-refresh", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists("router:lock:token-refresh"))
	assert.NoError(t, lock.Release(ctx))
}
