// Package ratelimit paces outbound requests with a token bucket.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"salesforce-router/internal/common/errors"
)

// Limiter paces callers
type Limiter interface {
	// Wait blocks until a request may be made or ctx is done
	Wait(ctx context.Context) error
	// TryAcquire reports whether a request may be made right now
	TryAcquire() bool
}

type localLimiter struct {
	limiter *rate.Limiter
}

type unlimited struct{}

func (unlimited) Wait(context.Context) error { return nil }
func (unlimited) TryAcquire() bool           { return true }

// Unlimited never blocks
var Unlimited Limiter = unlimited{}

// NewLocalLimiter creates an in-process limiter. A disabled config yields
// Unlimited.
func NewLocalLimiter(config Config) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled() {
		return Unlimited, nil
	}
	return &localLimiter{
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize),
	}, nil
}

func (l *localLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.InternalError("rate limit wait aborted", err)
	}
	return nil
}

func (l *localLimiter) TryAcquire() bool {
	return l.limiter.Allow()
}
