// Package config loads the router's settings from the environment.
//
// Environment Variables:
//
// Salesforce connection:
//   - SALESFORCE_HOST: base URL of the Salesforce instance (absolute http(s))
//   - SALESFORCE_USERNAME, SALESFORCE_PASSWORD: password grant credentials
//   - CONSUMER_KEY, CONSUMER_SECRET: connected app credentials
//
// Routing:
//   - EVENT_PATH: sink path for the include-list routing
//   - EVENT_METHOD_TYPE: HTTP method for the include-list sink and the default
//     for mapping entries (default: POST)
//   - EVENTS_TO_INCLUDE: comma separated event names
//   - PROPERTIES_TO_INCLUDE: comma separated property allow-list
//   - EVENT_ENDPOINT_MAPPING: JSON object of event name to sink
//
// Service:
//   - PORT: ingest API port (default: 8080)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - LOG_FILE: write logs to this file instead of stdout
//   - LOG_FORMAT: console or json (default: console)
//   - DEBUG_LOGGING: "on" forces debug logging
//   - REDIS_ADDRESS: token cache address; empty keeps the token in memory
//   - REDIS_PASSWORD, REDIS_DB: Redis credentials and database 0-15
//   - BUFFER_LIMIT_BYTES: batch size that triggers a flush (default: 1048576)
//   - BUFFER_INTERVAL: batch age that triggers a flush (default: 1s)
//   - SETUP_MAX_ATTEMPTS: setup attempts before giving up, 0 means forever (default: 0)
//   - SINK_RATE_LIMIT: sink requests per second, 0 disables pacing (default: 0)
//   - SINK_RATE_BURST: requests allowed in a burst (default: the rate)
//
// Example usage:
//
//	if err := config.LoadDotEnv(); err != nil {
//		return err
//	}
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"salesforce-router/internal/common/ratelimit"
	"salesforce-router/internal/common/utils"
	"salesforce-router/internal/common/validation"
	"salesforce-router/internal/routing"

	"github.com/joho/godotenv"
)

// Config holds all configuration values. String fields mirror their
// environment variables; typed accessors parse them after Validate.
type Config struct {
	// Salesforce connection
	SalesforceHost     string
	SalesforceUsername string
	SalesforcePassword string
	ConsumerKey        string
	ConsumerSecret     string

	// Routing
	EventPath            string
	EventMethodType      string
	EventsToInclude      string
	PropertiesToInclude  string
	EventEndpointMapping string

	// Service settings
	Port         string
	LogLevel     string
	LogFile      string
	DebugLogging string

	// Redis token cache
	RedisAddress  string
	RedisPassword string
	RedisDB       string

	// Buffer and setup
	BufferLimitBytes string
	BufferInterval   string
	SetupMaxAttempts string
	SinkRateLimit    string
	SinkRateBurst    string
}

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are given. A missing default file is not an error. Variables already set
// in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return godotenv.Load(files...)
}

// Load creates a Config from environment variables, using defaults for
// unset values. It does not validate.
func Load() *Config {
	return &Config{
		SalesforceHost:     getEnv("SALESFORCE_HOST", ""),
		SalesforceUsername: getEnv("SALESFORCE_USERNAME", ""),
		SalesforcePassword: getEnv("SALESFORCE_PASSWORD", ""),
		ConsumerKey:        getEnv("CONSUMER_KEY", ""),
		ConsumerSecret:     getEnv("CONSUMER_SECRET", ""),

		EventPath:            getEnv("EVENT_PATH", ""),
		EventMethodType:      getEnv("EVENT_METHOD_TYPE", "POST"),
		EventsToInclude:      getEnv("EVENTS_TO_INCLUDE", ""),
		PropertiesToInclude:  getEnv("PROPERTIES_TO_INCLUDE", ""),
		EventEndpointMapping: getEnv("EVENT_ENDPOINT_MAPPING", ""),

		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		DebugLogging: getEnv("DEBUG_LOGGING", "off"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		BufferLimitBytes: getEnv("BUFFER_LIMIT_BYTES", "1048576"),
		BufferInterval:   getEnv("BUFFER_INTERVAL", "1s"),
		SetupMaxAttempts: getEnv("SETUP_MAX_ATTEMPTS", "0"),
		SinkRateLimit:    getEnv("SINK_RATE_LIMIT", "0"),
		SinkRateBurst:    getEnv("SINK_RATE_BURST", "0"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks the service settings. Connection and routing settings are
// checked by the pipeline at setup, where a failure can be retried.
func (c *Config) Validate() error {
	v := validation.NewValidator()

	port, err := strconv.Atoi(c.Port)
	if err != nil {
		port = 0
	}
	v.RequireRange(port, 1, 65535, "PORT")

	v.RequireOneOf(strings.ToLower(c.LogLevel), logLevels, "LOG_LEVEL")

	if c.RedisAddress != "" {
		db, err := strconv.Atoi(c.RedisDB)
		if err != nil {
			db = -1
		}
		v.RequireRange(db, 0, 15, "REDIS_DB")
	}

	limit, err := strconv.ParseInt(c.BufferLimitBytes, 10, 64)
	if err != nil {
		limit = 0
	}
	v.RequirePositive(limit, "BUFFER_LIMIT_BYTES")

	v.Validate(func() error {
		if d, err := utils.ParseDuration(c.BufferInterval); err != nil || d <= 0 {
			return errors.New("BUFFER_INTERVAL must be a positive duration (e.g. '1s', '500ms')")
		}
		return nil
	})

	v.Validate(func() error {
		if n, err := strconv.Atoi(c.SetupMaxAttempts); err != nil || n < 0 {
			return errors.New("SETUP_MAX_ATTEMPTS must be a non-negative number")
		}
		return nil
	})

	v.Validate(func() error {
		if f, err := strconv.ParseFloat(c.SinkRateLimit, 64); err != nil || f < 0 {
			return errors.New("SINK_RATE_LIMIT must be a non-negative number")
		}
		return nil
	})

	v.Validate(func() error {
		if n, err := strconv.Atoi(c.SinkRateBurst); err != nil || n < 0 {
			return errors.New("SINK_RATE_BURST must be a non-negative number")
		}
		return nil
	})

	return v.Error()
}

// Routing returns the routing settings in the form routing.Parse expects
func (c *Config) Routing() routing.RawConfig {
	return routing.RawConfig{
		EventPath:            c.EventPath,
		EventMethodType:      c.EventMethodType,
		EventsToInclude:      c.EventsToInclude,
		PropertiesToInclude:  c.PropertiesToInclude,
		EventEndpointMapping: c.EventEndpointMapping,
	}
}

// BufferSizeLimit returns BUFFER_LIMIT_BYTES, or 0 when it does not parse
func (c *Config) BufferSizeLimit() int {
	n, _ := strconv.Atoi(c.BufferLimitBytes)
	return n
}

// BufferTimeLimit returns BUFFER_INTERVAL, or 0 when it does not parse
func (c *Config) BufferTimeLimit() time.Duration {
	d, _ := utils.ParseDuration(c.BufferInterval)
	return d
}

// RedisDatabase returns REDIS_DB as a number
func (c *Config) RedisDatabase() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

// SetupAttempts returns SETUP_MAX_ATTEMPTS; 0 means retry until cancelled
func (c *Config) SetupAttempts() int {
	n, _ := strconv.Atoi(c.SetupMaxAttempts)
	return n
}

// SinkRate returns the sink pacing settings
func (c *Config) SinkRate() ratelimit.Config {
	rps, _ := strconv.ParseFloat(c.SinkRateLimit, 64)
	burst, _ := strconv.Atoi(c.SinkRateBurst)
	return ratelimit.Config{RequestsPerSecond: rps, BurstSize: burst}
}
