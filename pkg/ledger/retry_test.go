package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsOnPermanentErrors(test *testing.T) {
	test.Parallel()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	err := policy.run(context.Background(), func() error {
		attempts++
		return ErrInsufficientFunds
	})
	if !errors.Is(err, ErrInsufficientFunds) || err != ErrInsufficientFunds {
		test.Fatalf("expected the unwrapped business error, got %v", err)
	}
	if attempts != 1 {
		test.Fatalf("expected one attempt, got %d", attempts)
	}
}

func TestRetryPolicyReplaysConflictsUntilSuccess(test *testing.T) {
	test.Parallel()
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, RandomizationFactor: 0.2}
	attempts := 0
	err := policy.run(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return WrapError("store", "listing", "update", ErrConcurrentUpdate)
		}
		return nil
	})
	if err != nil || attempts != 3 {
		test.Fatalf("expected success on third attempt, got %v after %d", err, attempts)
	}
}

func TestRetryPolicyHonorsCancellation(test *testing.T) {
	test.Parallel()
	policy := RetryPolicy{MaxAttempts: 100, BaseDelay: time.Minute, MaxDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.run(ctx, func() error {
			attempts++
			return ErrConcurrentUpdate
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			test.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		test.Fatalf("retry loop ignored cancellation")
	}
	if attempts != 1 {
		test.Fatalf("expected a single attempt before cancellation, got %d", attempts)
	}
}
