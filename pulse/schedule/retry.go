package schedule

import (
	"context"
	"time"

	"github.com/teranos/keywatch/errors"
)

// RetryPolicy bounds the attempts of one execution cycle.
// The delay is fixed: the first attempt runs immediately, each retry waits Delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns three attempts five seconds apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// wait sleeps for the retry delay unless ctx ends first
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. Exhaustion is marked with ErrExhaustedRetries and
// keeps the last attempt's error as the cause.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	max := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if attempt > 1 {
			if err := p.wait(ctx); err != nil {
				return errors.Wrap(err, "retry interrupted")
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
	}

	err := errors.Mark(errors.Wrapf(lastErr, "gave up after %d attempts", max), errors.ErrExhaustedRetries)
	return errors.WithDetailf(err, "Max attempts: %d", max)
}
