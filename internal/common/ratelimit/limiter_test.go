package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesforce-router/internal/common/errors"
)

func TestLocalLimiter(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{RequestsPerSecond: 10, BurstSize: 5})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.TryAcquire(), "request %d should be allowed", i)
	}
	assert.False(t, limiter.TryAcquire(), "burst exhausted")

	assert.NoError(t, limiter.Wait(context.Background()))
}

func TestLocalLimiter_WaitHonoursContext(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{RequestsPerSecond: 0.1, BurstSize: 1})
	require.NoError(t, err)
	require.True(t, limiter.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestNewLocalLimiter_Disabled(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{})
	require.NoError(t, err)
	assert.Equal(t, Unlimited, limiter)

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.TryAcquire())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantErr   bool
		wantBurst int
	}{
		{"disabled", Config{}, false, 0},
		{"burst defaults to rate", Config{RequestsPerSecond: 25}, false, 25},
		{"burst at least one", Config{RequestsPerSecond: 0.5}, false, 1},
		{"explicit burst kept", Config{RequestsPerSecond: 5, BurstSize: 2}, false, 2},
		{"negative rate", Config{RequestsPerSecond: -1}, true, 0},
		{"negative burst", Config{RequestsPerSecond: 1, BurstSize: -1}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBurst, cfg.BurstSize)
		})
	}
}
