package jobqueue

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	// SyncLockKey guards stale-subscription batches across instances.
	SyncLockKey = "billing:sync:lock"
	SyncLockTTL = 15 * time.Minute
)

// Locker hands out exclusive, expiring locks. cache.Locker implements it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// RunExclusive runs fn while holding key. It reports false without calling
// fn when another holder has the lock. A nil locker, or one whose backend
// cannot be reached, runs fn unguarded.
func RunExclusive(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if locker == nil {
		return true, fn(ctx)
	}

	release, ok, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		log.Warnf("[SyncLock] Lock %s unavailable, running unguarded: %v", key, err)
		return true, fn(ctx)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// The lock expires on its own if release fails.
		_ = release(context.WithoutCancel(ctx))
	}()

	return true, fn(ctx)
}
