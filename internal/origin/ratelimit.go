package origin

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultBackoff applies when a 429 carries no usable Retry-After.
const defaultBackoff = 5 * time.Second

// rateLimiter is a token bucket plus a backoff window set by 429 responses.
type rateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

func (r *rateLimiter) backoff(d time.Duration) {
	if d <= 0 {
		d = defaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(d); until.After(r.retryAt) {
		r.retryAt = until
	}
}
