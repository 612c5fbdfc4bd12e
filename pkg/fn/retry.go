package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool
	// RetryIf reports whether a failed attempt may be retried. Nil retries every error.
	RetryIf func(error) bool
}

// Retry calls f until it succeeds, RetryIf rejects the error, MaxAttempts is
// reached or ctx is done. The wait doubles after each attempt up to MaxWait.
// MaxAttempts below one is treated as one.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	wait := opts.InitialWait

	var r Result[T]
	for attempt := 1; ; attempt++ {
		r = f(ctx)
		_, err := r.Unwrap()
		if err == nil || attempt == attempts {
			return r
		}
		if opts.RetryIf != nil && !opts.RetryIf(err) {
			return r
		}

		t := time.NewTimer(opts.backoff(wait))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
}

func (o RetryOpts) backoff(wait time.Duration) time.Duration {
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	if o.MaxWait > 0 && wait > o.MaxWait {
		wait = o.MaxWait
	}
	return wait
}
