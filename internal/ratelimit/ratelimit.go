// Package ratelimit implements the process-global requests-per-second
// governor the Scheduler uses to throttle probe attempts (spec.md §4.2).
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with capacity Burst refilled at
// RequestsPerSecond tokens/sec.  It is safe for concurrent use; fairness is
// not strictly required, but golang.org/x/time/rate's FIFO wait list keeps
// starvation bounded (spec.md §4.2).
type Limiter struct {
	// rl is nil when the limiter is a no-op (RequestsPerSecond == 0).
	rl *rate.Limiter
}

// New returns a new *Limiter.  rps == 0 disables throttling entirely
// (spec.md §8 boundary 8); burst must be at least 1 when rps > 0.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{}
	}

	if burst < 1 {
		burst = 1
	}

	return &Limiter{rl: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire blocks the caller until one token is available, or until ctx is
// done.  A no-op limiter returns immediately.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.rl == nil {
		return nil
	}

	return l.rl.Wait(ctx)
}
