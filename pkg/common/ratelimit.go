package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out job submissions so a flood of enqueues drains into
// the worker pool at a bounded pace instead of starving the request path.
// rate.Limiter is safe for concurrent use, so no extra locking is needed.
type RateLimiter struct {
	bucket *rate.Limiter
}

// NewRateLimiter builds a limiter allowing perSecond acquisitions per second.
// burst is the number of slots available at once; values below one are
// clamped so the limiter never deadlocks.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Acquire blocks until a submission slot opens or ctx ends, returning the
// context's error in the latter case.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	return rl.bucket.Wait(ctx)
}
