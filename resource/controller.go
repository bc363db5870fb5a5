// Package resource throttles background work so maintenance jobs
// (compaction, index rebuilds, snapshots) cannot starve foreground queries.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxBackgroundWorkers is the maximum number of concurrent background
	// jobs. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum IO throughput for background tasks.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages background concurrency and IO bandwidth.
type Controller struct {
	bgSem     *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireBackground reserves a background worker slot, blocking while all
// slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, bytes)
}

// RunBackground runs fn in a worker slot, waiting for one if necessary.
func (c *Controller) RunBackground(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.AcquireBackground(ctx); err != nil {
		return err
	}
	defer c.ReleaseBackground()
	return fn(ctx)
}
