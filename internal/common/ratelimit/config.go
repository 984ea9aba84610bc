package ratelimit

import (
	"salesforce-router/internal/common/errors"
)

// Config represents rate limiter configuration. A zero RequestsPerSecond
// disables limiting.
type Config struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
}

// Enabled reports whether the config limits anything
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Validate checks the settings and fills in the burst default
func (c *Config) Validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.ConfigError("requests per second must not be negative").
			WithContext("requests_per_second", c.RequestsPerSecond)
	}
	if c.BurstSize < 0 {
		return errors.ConfigError("burst size must not be negative").
			WithContext("burst_size", c.BurstSize)
	}
	if c.Enabled() && c.BurstSize == 0 {
		c.BurstSize = int(c.RequestsPerSecond)
		if c.BurstSize < 1 {
			c.BurstSize = 1
		}
	}
	return nil
}
