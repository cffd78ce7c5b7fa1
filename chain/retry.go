package chain

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds upstream calls: transient failures are retried with a
// linearly growing delay, rate limits with a separately configured delay
// scaled by attempt number. Terminal kinds are surfaced immediately.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
}

// DefaultRetryPolicy matches the upstream API budgets used across adapters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
	}
}

// Do runs fn up to MaxAttempts times. The final error is returned to the
// caller; swallowing it is the caller's decision (idempotent reads may
// degrade to a safe default, write-triggering calls must not).
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == attempts {
			break
		}
		delay := p.BaseDelay * time.Duration(attempt)
		if KindOf(err) == KindRateLimited {
			delay = p.RateLimitDelay * time.Duration(attempt)
		}
		log.Warn().Str("op", op).Int("attempt", attempt).Dur("delay", delay).Err(err).
			Msg("upstream call failed, retrying")
		select {
		case <-ctx.Done():
			return Wrap(KindTransient, op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}
