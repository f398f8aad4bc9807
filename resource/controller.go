// Package resource enforces global limits on memory held by decoded
// images and on the concurrency and throughput of snapshot transfers.
//
// A single Controller is shared by the processing pipeline and the blob
// layer. All methods are safe on a nil receiver, which disables the
// corresponding limit, so callers never have to branch on whether a
// controller was configured.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// rawPixelBytes is the footprint of one pixel as decoded RGB.
const rawPixelBytes = 3

// perceptualPixelBytes is the footprint of one pixel after conversion
// to three float32 perceptual channels.
const perceptualPixelBytes = 12

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps the memory held by in-flight images
	// (decoded pixels plus their perceptual conversion). If 0, usage
	// is tracked but not limited.
	MemoryLimitBytes int64

	// MaxTransfers is the maximum number of concurrent snapshot
	// uploads or downloads. If 0, defaults to 1.
	MaxTransfers int64

	// IOLimitBytesPerSec throttles snapshot transfer throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages global resources (image memory, transfer slots,
// transfer throughput).
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Transfers
	transferSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxTransfers <= 0 {
		cfg.MaxTransfers = 1
	}

	c := &Controller{
		cfg:         cfg,
		transferSem: semaphore.NewWeighted(cfg.MaxTransfers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// ImageFootprint returns the bytes an image of the given dimensions
// occupies while it moves through the pipeline: the raw RGB pixels
// plus the perceptual float32 planes derived from them.
func ImageFootprint(width, height int) int64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	return int64(width) * int64(height) * (rawPixelBytes + perceptualPixelBytes)
}

// AcquireImage reserves the memory footprint of one image. It blocks
// until the budget allows it or ctx is canceled. Release with
// ReleaseImage using the same dimensions.
func (c *Controller) AcquireImage(ctx context.Context, width, height int) error {
	return c.AcquireMemory(ctx, ImageFootprint(width, height))
}

// ReleaseImage returns the footprint reserved by AcquireImage.
func (c *Controller) ReleaseImage(width, height int) {
	c.ReleaseMemory(ImageFootprint(width, height))
}

// AcquireMemory attempts to reserve memory. If a hard limit is
// configured and usage would exceed it, this blocks until memory is
// available or ctx is canceled.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory attempts to reserve memory without blocking.
// Returns true if acquired, false if the limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil {
		return true
	}
	if bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireTransfer reserves a transfer slot, blocking while all slots
// are busy.
func (c *Controller) AcquireTransfer(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.transferSem.Acquire(ctx, 1)
}

// TryAcquireTransfer reserves a transfer slot without blocking.
func (c *Controller) TryAcquireTransfer() bool {
	if c == nil {
		return true
	}
	return c.transferSem.TryAcquire(1)
}

// ReleaseTransfer releases a transfer slot.
func (c *Controller) ReleaseTransfer() {
	if c == nil {
		return
	}
	c.transferSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of
// bytes to move. Requests larger than the limiter burst are split, so
// a single large write never fails outright.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}

	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}

	return nil
}
