package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often an operation is replayed after ErrConcurrentUpdate.
type RetryPolicy struct {
	MaxAttempts         uint32
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RandomizationFactor float64
}

// DefaultRetryPolicy suits a handful of writers racing on one listing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         5,
		BaseDelay:           10 * time.Millisecond,
		MaxDelay:            250 * time.Millisecond,
		RandomizationFactor: 0.5,
	}
}

// Validate rejects policies that would never run or never back off.
func (policy RetryPolicy) Validate() error {
	if policy.MaxAttempts == 0 {
		return fmt.Errorf("%w: retry max attempts must be positive", ErrInvalidServiceConfig)
	}
	if policy.BaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay must be positive", ErrInvalidServiceConfig)
	}
	if policy.MaxDelay < policy.BaseDelay {
		return fmt.Errorf("%w: retry max delay below base delay", ErrInvalidServiceConfig)
	}
	if policy.RandomizationFactor < 0 || policy.RandomizationFactor >= 1 {
		return fmt.Errorf("%w: retry randomization factor must be in [0, 1)", ErrInvalidServiceConfig)
	}
	return nil
}

func (policy RetryPolicy) backOff() *backoff.ExponentialBackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.BaseDelay
	exponential.MaxInterval = policy.MaxDelay
	exponential.RandomizationFactor = policy.RandomizationFactor
	return exponential
}

// run replays attemptFn while it reports ErrConcurrentUpdate. Any other error ends the loop.
func (policy RetryPolicy) run(ctx context.Context, attemptFn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attemptFn()
		if err != nil && !errors.Is(err, ErrConcurrentUpdate) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}
