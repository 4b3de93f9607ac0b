package schedule

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/logger"
)

// LockCoordinator wraps the store's execution flag with a local record of
// the locks this process holds. The local set is advisory; the store flag
// is authoritative across processes.
type LockCoordinator struct {
	store   Store
	release RetryPolicy
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockCoordinator creates a coordinator. releasePolicy bounds how hard a
// release is retried when the store is unreachable.
func NewLockCoordinator(store Store, releasePolicy RetryPolicy, log *zap.SugaredLogger) *LockCoordinator {
	return &LockCoordinator{
		store:   store,
		release: releasePolicy,
		logger:  logger.AddLockSymbol(log),
		held:    make(map[string]struct{}),
	}
}

// Acquire tries to take the execution lock for id.
// A lock already held by this process is refused locally without a store round trip.
func (c *LockCoordinator) Acquire(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	if _, ok := c.held[id]; ok {
		c.mu.Unlock()
		return false, nil
	}
	// Reserve before the store call so two local callers cannot race for the same id.
	c.held[id] = struct{}{}
	c.mu.Unlock()

	acquired, err := c.store.TryAcquireLock(ctx, id)
	if err != nil || !acquired {
		c.forget(id)
		return false, err
	}

	c.logger.Debugw("Lock acquired", logger.FieldScheduleID, id)
	return true, nil
}

// Release clears the lock for id. The store call runs on a context detached
// from ctx's cancellation and is retried while the store is unavailable.
// The local record is dropped whatever the outcome; a flag left set in the
// store is cleared by RecoverOnStartup.
func (c *LockCoordinator) Release(ctx context.Context, id string) error {
	defer c.forget(id)

	releaseCtx := context.WithoutCancel(ctx)
	err := c.release.Do(releaseCtx, func(attempt int) error {
		err := c.store.ReleaseLock(releaseCtx, id)
		if err != nil {
			c.logger.Warnw("Lock release failed",
				logger.FieldScheduleID, id,
				logger.FieldAttempt, attempt,
				logger.FieldError, err)
		}
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to release lock for schedule %s", id)
	}

	c.logger.Debugw("Lock released", logger.FieldScheduleID, id)
	return nil
}

// RecoverOnStartup clears every execution flag left behind by a crash.
// Call it once before the first tick, and only when no other live process
// is executing schedules against the same store.
func (c *LockCoordinator) RecoverOnStartup(ctx context.Context) (int64, error) {
	n, err := c.store.ResetAllLocks(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover schedule locks")
	}

	c.mu.Lock()
	c.held = make(map[string]struct{})
	c.mu.Unlock()

	if n > 0 {
		c.logger.Warnw("Reset stale schedule locks", logger.FieldCount, n)
	} else {
		c.logger.Infow("No stale schedule locks")
	}
	return n, nil
}

// IsHeld reports whether this process holds the lock for id
func (c *LockCoordinator) IsHeld(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[id]
	return ok
}

// Held returns the ids locked by this process, sorted
func (c *LockCoordinator) Held() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.held))
	for id := range c.held {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (c *LockCoordinator) forget(id string) {
	c.mu.Lock()
	delete(c.held, id)
	c.mu.Unlock()
}
