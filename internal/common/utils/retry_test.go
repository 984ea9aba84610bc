package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetryWithBackoff_SucceedsEventually(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_MaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("down")
	err := RetryWithBackoff(context.Background(), fastConfig(3), func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	fatal := errors.New("bad config")
	cfg := fastConfig(5)
	cfg.RetryableErrors = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_OnRetry(t *testing.T) {
	cfg := fastConfig(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
		assert.Greater(t, delay, time.Duration(0))
	}

	_ = RetryWithBackoff(context.Background(), cfg, func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 0, InitialDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := RetryWithBackoff(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Equal(t, 1, calls)
}

func TestRandomInt64n(t *testing.T) {
	assert.Equal(t, int64(0), randomInt64n(0))
	assert.Equal(t, int64(0), randomInt64n(-3))
	for i := 0; i < 100; i++ {
		v := randomInt64n(10)
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(10))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1s", time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"2", 2 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{" 3 ", 3 * time.Second, false},
		{"", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
