package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a fixed minimum interval between consecutive calls.
// Free-tier provider quotas differ widely (a "5 calls/minute" tier needs
// 12s+ spacing, a paid tier effectively none), so each provider gets its own
// limiter with its own interval. All waits share a single clock: callers are
// served in lock order, never reordered or batched.
type RateLimiter struct {
	interval time.Duration
	lastCall time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter with the given minimum spacing
// between calls. A non-positive interval disables waiting.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous call, or the context is cancelled. The first call never waits.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()

	now := time.Now()
	var wait time.Duration
	if !rl.lastCall.IsZero() && rl.interval > 0 {
		if elapsed := now.Sub(rl.lastCall); elapsed < rl.interval {
			wait = rl.interval - elapsed
		}
	}

	if wait <= 0 {
		rl.lastCall = now
		rl.mu.Unlock()
		return nil
	}
	rl.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	rl.mu.Lock()
	rl.lastCall = time.Now()
	rl.mu.Unlock()
	return nil
}
