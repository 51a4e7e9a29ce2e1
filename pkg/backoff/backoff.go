// Package backoff holds the retry policy for provider failures and a small
// helper for retrying infrastructure calls in-process.
package backoff

import (
	"context"
	"fmt"
	"time"
)

const (
	// BaseDelay is the visibility delay before the first re-enqueue.
	BaseDelay = 2 * time.Second
	// MaxDelay caps the exponential curve.
	MaxDelay = time.Minute
)

// Delay returns the re-enqueue visibility delay for a job about to make the
// given attempt (1-indexed). The curve doubles from BaseDelay: 2s, 4s, 8s…
// capped at MaxDelay.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}

// Config controls Do.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; doubles per attempt.
	BaseDelay time.Duration
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times with doubling delays in between.
// Meant for infrastructure calls (store, queue) that may hiccup briefly —
// provider failures go through the durable re-enqueue path instead.
//
// Returns nil on first success, or the last error after all attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = BaseDelay
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// Last attempt — no delay, just return the error.
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		delay *= 2
		if delay > MaxDelay {
			delay = MaxDelay
		}
	}
	return lastErr
}
