package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RetryConfig bounds the exponential backoff applied to transient delivery
// failures.
type RetryConfig struct {
	// MaxAttempts includes the first attempt; 3 means one try plus two retries.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool
}

// DefaultRetryConfig returns the delivery retry defaults: three attempts with
// a one second base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// deliverWithRetry runs fn until it succeeds, fails permanently, exhausts the
// attempt budget, or the context is cancelled. Returns the number of attempts
// made alongside the final error.
//
// Cancellation only prevents starting not-yet-attempted retries; an attempt
// already inside fn runs to its own completion.
func deliverWithRetry(ctx context.Context, cfg RetryConfig, fn func() error) (int, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) {
			return attempt, err
		}
		if attempt == cfg.MaxAttempts {
			return attempt, lastErr
		}

		sleep := delay
		if quarter := delay / 4; cfg.AddJitter && quarter > 0 {
			randMu.Lock()
			sleep += time.Duration(randSource.Int63n(int64(quarter)))
			randMu.Unlock()
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}

		next := float64(delay) * cfg.Multiplier
		if next > float64(cfg.MaxDelay) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(next)
		}
	}

	return cfg.MaxAttempts, lastErr
}
