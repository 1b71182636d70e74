// Package lock provides the named, expiring locks that keep two processes from running
// the same migration (or the same project's scheduler tick) at once.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// ErrLockUnavailable is returned by TryAcquire when the lock is held elsewhere.
var ErrLockUnavailable = errors.New("lock is held by another owner")

// Lock is a held lock.
type Lock interface {
	// Name returns the lock name.
	Name() string
	// Release gives the lock up. Releasing an expired or already released lock is a no-op.
	Release(ctx context.Context) error
}

// Locker hands out named locks.
type Locker interface {
	// TryAcquire takes the named lock without waiting. It returns ErrLockUnavailable
	// when another owner holds it. The lock expires after ttl if never released;
	// backends without expiry hold it until release or disconnect.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// WithLock runs fn while holding the named lock. The lock is released even if fn panics.
func WithLock(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := locker.TryAcquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// The caller's ctx may already be cancelled; the release must still reach the backend.
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("Failed to release lock '%s': %v", name, err)
		}
	}()
	logger.Debugf("Acquired lock '%s' (ttl %s).", name, ttl)
	return fn(ctx)
}
