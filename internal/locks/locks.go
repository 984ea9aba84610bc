// Package locks coordinates work between router instances that share a
// Redis, using the Redlock implementation from go-redsync.
package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"salesforce-router/internal/common/errors"
	"salesforce-router/internal/redis"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// Lock is a held distributed lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out distributed locks
type Locker interface {
	// AcquireLock blocks until the lock is held, ctx is done, or the retry
	// budget runs out. The lock expires after ttl if never released.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

const (
	defaultTries      = 64
	defaultRetryDelay = 100 * time.Millisecond
)

// RedsyncLocker implements Locker on a single Redis
type RedsyncLocker struct {
	redsync *redsync.Redsync
	prefix  string
	tries   int
	delay   time.Duration
}

// NewRedsyncLocker creates a locker. prefix namespaces the lock keys.
func NewRedsyncLocker(client *redis.Client, prefix string) (*RedsyncLocker, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(client.GoRedis())
	return &RedsyncLocker{
		redsync: redsync.New(pool),
		prefix:  prefix,
		tries:   defaultTries,
		delay:   defaultRetryDelay,
	}, nil
}

// AcquireLock implements Locker
func (l *RedsyncLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	name := fmt.Sprintf("%slock:%s", l.prefix, key)
	mutex := l.redsync.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.delay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).
			WithContext("key", key)
	}
	return &redsyncLock{mutex: mutex, key: key}, nil
}

type redsyncLock struct {
	mutex *redsync.Mutex
	key   string
}

func (l *redsyncLock) Key() string {
	return l.key
}

// Release unlocks the mutex. A lock that already expired, or that someone
// else took over after expiry, is not an error.
func (l *redsyncLock) Release(ctx context.Context) error {
	if _, err := l.mutex.UnlockContext(ctx); err != nil {
		var taken *redsync.ErrNodeTaken
		if stderrors.Is(err, redsync.ErrLockAlreadyExpired) || stderrors.As(err, &taken) {
			return nil
		}
		return errors.InternalError("failed to release distributed lock", err).
			WithContext("key", l.key)
	}
	return nil
}
