package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles an underlying Notifier to a steady send rate.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimited wraps next so at most perSecond messages are sent per second,
// allowing bursts of up to burst. A non-positive rate disables throttling.
func NewRateLimited(next Notifier, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Send waits for a send slot, then delegates. It fails if ctx ends first.
func (r *RateLimited) Send(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification throttled: %w", err)
	}
	return r.next.Send(ctx, msg)
}
