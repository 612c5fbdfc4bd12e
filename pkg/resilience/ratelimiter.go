package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of tokens added per second. Zero or less disables limiting.
	Rate float64
	// Burst is the bucket capacity. Values below one are raised to one.
	Burst int
}

// Limiter is a token bucket guarding calls to a remote collaborator.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	burst := max(opts.Burst, 1)
	r := rate.Limit(opts.Rate)
	if opts.Rate <= 0 {
		r = rate.Inf
	}
	return &Limiter{l: rate.NewLimiter(r, burst)}
}

// Wait blocks until a token is available or ctx is done. It fails at once
// when ctx would expire before the next token.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.l.Wait(ctx)
}
