package oauth2

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"salesforce-router/internal/common/errors"
	commonhttp "salesforce-router/internal/common/http"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/locks"
	"salesforce-router/internal/metrics"
)

const (
	// TokenCacheKey is the storage key holding the access token
	TokenCacheKey = "SF_AUTH_TOKEN"
	// TokenTTL is how long an exchanged token is trusted
	TokenTTL = 5 * time.Hour
	// TokenPath is the token endpoint relative to the host
	TokenPath = "/services/oauth2/token"

	maxErrorBody = 512

	refreshLockKey = "oauth2-token-refresh"
	refreshLockTTL = 30 * time.Second
)

// TokenResponse is the token endpoint's success body
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	InstanceURL string `json:"instance_url,omitempty"`
	IssuedAt    string `json:"issued_at,omitempty"`
}

// Config holds the password-grant credentials
type Config struct {
	Host         string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// TokenURL returns the token endpoint for the configured host
func (c Config) TokenURL() string {
	return c.Host + TokenPath
}

func (c Config) form() url.Values {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("username", c.Username)
	form.Set("password", c.Password)
	return form
}

// Option configures a Manager
type Option func(*Manager)

// WithHTTPClient sets the client used for the credential exchange
func WithHTTPClient(client commonhttp.Doer) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithLogger sets the manager's logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the recorder notified of every exchange
func WithMetrics(recorder metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = recorder }
}

// WithTTL overrides TokenTTL
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithRefreshLock makes exchanges mutually exclusive across every Manager
// sharing the locker and the token storage
func WithRefreshLock(locker locks.Locker) Option {
	return func(m *Manager) { m.locker = locker }
}

// Manager hands out the cached bearer token and exchanges credentials on a
// miss. At most one exchange is in flight per Manager.
type Manager struct {
	config     Config
	storage    TokenStorage
	httpClient commonhttp.Doer
	logger     logging.Logger
	metrics    metrics.Recorder
	ttl        time.Duration
	locker     locks.Locker
	group      singleflight.Group
}

// NewManager creates a token manager over storage
func NewManager(config Config, storage TokenStorage, opts ...Option) *Manager {
	m := &Manager{
		config:  config,
		storage: storage,
		metrics: metrics.Noop{},
		ttl:     TokenTTL,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	m.logger = m.logger.WithFields(logging.String("component", "oauth2"))
	if m.httpClient == nil {
		m.httpClient = commonhttp.NewHTTPClientWithTimeout(30 * time.Second)
	}
	if m.storage == nil {
		m.storage = NewMemoryTokenStorage()
	}
	return m
}

// GetToken returns the cached access token, exchanging credentials when the
// cache is empty. Concurrent misses share a single exchange. A failed
// exchange returns an authentication error and caches nothing.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	token, found, err := m.storage.Get(ctx, TokenCacheKey)
	if err != nil {
		m.logger.Warn("Token cache read failed, exchanging credentials", logging.Err(err))
	} else if found {
		return token, nil
	}

	// The shared exchange must not be cancelled by whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)
	result := m.group.DoChan(TokenCacheKey, func() (interface{}, error) {
		if token, found, err := m.storage.Get(flightCtx, TokenCacheKey); err == nil && found {
			return token, nil
		}
		return m.refreshLocked(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate evicts the cached token so the next GetToken exchanges
// credentials again.
func (m *Manager) Invalidate(ctx context.Context) error {
	if err := m.storage.Delete(ctx, TokenCacheKey); err != nil {
		m.logger.Error("Failed to evict cached token", err)
		return errors.InternalError("failed to evict cached token", err)
	}
	m.logger.Debug("Cached token evicted")
	return nil
}

// refreshLocked serializes the exchange with other processes when a locker
// is configured. Whoever waited on the lock reuses the token the holder
// stored.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	if m.locker == nil {
		return m.refresh(ctx)
	}

	lock, err := m.locker.AcquireLock(ctx, refreshLockKey, refreshLockTTL)
	if err != nil {
		m.logger.Warn("Refresh lock unavailable, exchanging without it", logging.Err(err))
		return m.refresh(ctx)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			m.logger.Warn("Failed to release refresh lock", logging.Err(err))
		}
	}()

	if token, found, err := m.storage.Get(ctx, TokenCacheKey); err == nil && found {
		m.logger.Debug("Token refreshed by another instance")
		return token, nil
	}
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.logger.Debug("Exchanging credentials for a new token",
		logging.String("token_url", m.config.TokenURL()),
		logging.String("username", m.config.Username),
	)

	resp, err := m.exchange(ctx)
	m.metrics.RecordTokenExchange(ctx, err)
	if err != nil {
		m.logger.Error("Token exchange failed", err,
			logging.Int("status", errors.StatusCode(err)),
		)
		return "", err
	}

	if err := m.storage.Set(ctx, TokenCacheKey, resp.AccessToken, m.ttl); err != nil {
		m.logger.Warn("Failed to cache token", logging.Err(err))
	}

	m.logger.Info("Obtained new access token", logging.Duration("ttl", m.ttl))
	return resp.AccessToken, nil
}

func (m *Manager) exchange(ctx context.Context) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL(),
		strings.NewReader(m.config.form().Encode()))
	if err != nil {
		return nil, errors.AuthError("token request failed", 0).
			WithCause(errors.ConfigError("invalid token url").WithCause(err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errors.AuthError("token request failed", 0).WithCause(err)
	}
	defer commonhttp.Drain(resp.Body)

	if !commonhttp.IsSuccess(resp.StatusCode) {
		authErr := errors.AuthError("got bad response getting the token", resp.StatusCode)
		if body := commonhttp.ReadSnippet(resp.Body, maxErrorBody); body != "" {
			authErr.WithContext("body", body)
		}
		return nil, authErr
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.AuthError("failed to decode token response", resp.StatusCode).WithCause(err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.AuthError("token response missing access_token", resp.StatusCode)
	}
	return &tokenResp, nil
}
