package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func retryCfg(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Microsecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDeliverWithRetrySucceedsFirstTry(t *testing.T) {
	attempts, err := deliverWithRetry(context.Background(), retryCfg(3), func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("deliverWithRetry() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDeliverWithRetryTransientEventuallySucceeds(t *testing.T) {
	calls := 0
	attempts, err := deliverWithRetry(context.Background(), retryCfg(5), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("deliverWithRetry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDeliverWithRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	attempts, err := deliverWithRetry(context.Background(), retryCfg(5), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("error = %v, want ErrPermanent", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 each", attempts, calls)
	}
}

func TestDeliverWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	attempts, err := deliverWithRetry(context.Background(), retryCfg(3), func() error {
		calls++
		return Transient(errors.New("still down"))
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 each", attempts, calls)
	}
}

func TestDeliverWithRetryUnwrappedErrorIsRetried(t *testing.T) {
	// Errors without a classification behave as transient.
	calls := 0
	_, err := deliverWithRetry(context.Background(), retryCfg(2), func() error {
		calls++
		return errors.New("unclassified")
	})
	if err == nil {
		t.Fatal("deliverWithRetry() error = nil, want failure")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDeliverWithRetryCanceledContextStopsBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	attempts, err := deliverWithRetry(ctx, cfg, func() error {
		return Transient(errors.New("down"))
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("deliverWithRetry() blocked for %v on a canceled context", elapsed)
	}
	if err == nil {
		t.Fatal("deliverWithRetry() error = nil, want failure")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryClassification(t *testing.T) {
	tr := Transient(errors.New("socket reset"))
	if !errors.Is(tr, ErrTransient) {
		t.Error("Transient() result does not match ErrTransient")
	}
	if errors.Is(tr, ErrPermanent) {
		t.Error("Transient() result matches ErrPermanent")
	}

	pm := Permanent(errors.New("404"))
	if !errors.Is(pm, ErrPermanent) {
		t.Error("Permanent() result does not match ErrPermanent")
	}
}
