// Package resilience holds retry and circuit-breaker helpers for calls to
// external systems.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrRetriesExhausted is wrapped by Retry when every attempt failed.
var ErrRetriesExhausted = errors.New("retry attempts exhausted")

// RetryConfig configures exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter adds up to this fraction of the delay at random, 0 disables it.
	Jitter float64
}

// DefaultRetryConfig returns 3 attempts starting at 100ms, doubling up to 2s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
	}
}

// Delay returns the wait before the given retry (1-based), without jitter.
func (c *RetryConfig) Delay(retry int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < retry; i++ {
		d *= c.BackoffFactor
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, MaxAttempts is reached or ctx is done.
// A nil config uses DefaultRetryConfig. The last error from fn is wrapped
// together with ErrRetriesExhausted.
func Retry(ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.Jitter > 0 {
			delay += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}
