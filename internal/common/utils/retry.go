// Package utils holds small helpers shared across the service.
package utils

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first one.
	// Zero or less means retry until the context is done.
	MaxAttempts int

	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// JitterFactor adds up to this fraction of the delay at random (0.1 = 10%)
	JitterFactor float64

	// RetryableErrors decides which errors trigger another attempt. Nil
	// retries every error.
	RetryableErrors func(error) bool

	// OnRetry is called before sleeping ahead of the next attempt
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns a sensible default retry configuration.
//
// Default settings:
//   - MaxAttempts: 3
//   - InitialDelay: 1 second
//   - MaxDelay: 30 seconds
//   - BackoffFactor: 2.0
//   - JitterFactor: 0.1
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryWithBackoff executes fn until it succeeds, returns a non-retryable
// error, runs out of attempts or ctx is done.
//
// Returns:
//   - nil if fn succeeds
//   - the original error if it is not retryable
//   - "max retries exceeded" wrapping the last error
//   - "retry cancelled" wrapping the context error
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; config.MaxAttempts <= 0 || attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		wait := delay
		if config.JitterFactor > 0 {
			wait += time.Duration(randomInt64n(int64(float64(delay) * config.JitterFactor)))
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// randomInt64n returns a random int64 in [0, n), or 0 when n <= 0
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() % n
	}
	return int64(binary.BigEndian.Uint64(buf[:])>>1) % n
}
