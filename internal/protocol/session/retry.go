package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// StatusError is implemented by transport errors that carry an HTTP status.
type StatusError interface {
	error
	StatusCode() int
}

// RetryPolicy bounds a retried operation: how many attempts, how long to
// wait between them, and which failures are worth another attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffConfig
	Retryable   func(error) bool
}

// StatusRetryable matches errors whose StatusCode is one of codes.
func StatusRetryable(codes ...int) func(error) bool {
	return func(err error) bool {
		var se StatusError
		if !errors.As(err, &se) {
			return false
		}
		for _, code := range codes {
			if se.StatusCode() == code {
				return true
			}
		}
		return false
	}
}

// RetryResult reports how a Retry run ended.
type RetryResult struct {
	Attempts  int
	Exhausted bool
}

// Retry runs op until it succeeds, fails with a non-retryable error, or the
// policy's attempts are used up. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, rng *rand.Rand, op func(ctx context.Context, attempt int) error) (RetryResult, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var res RetryResult
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		err := op(ctx, attempt)
		if err == nil {
			return res, nil
		}
		if policy.Retryable == nil || !policy.Retryable(err) {
			return res, err
		}
		if attempt >= maxAttempts {
			res.Exhausted = true
			return res, err
		}
		if err := sleep(ctx, NextBackoffDelay(policy.Backoff, attempt, rng)); err != nil {
			return res, err
		}
	}
}

// NextBackoffDelay returns the retry delay after attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 && cfg.Multiplier > 1.0 {
		delay *= math.Pow(cfg.Multiplier, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
