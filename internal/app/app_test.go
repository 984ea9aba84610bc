package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salesforce-router/internal/common/errors"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/common/utils"
	"salesforce-router/internal/config"
	"salesforce-router/internal/metrics"
	"salesforce-router/internal/oauth2"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// salesforce fails the first failTokens exchanges, then issues tokens and
// accepts every sink request
type salesforce struct {
	*httptest.Server
	failTokens int32
	exchanges  atomic.Int32

	mu    sync.Mutex
	paths []string
}

func newSalesforce(t *testing.T, failTokens int32) *salesforce {
	t.Helper()
	s := &salesforce{failTokens: failTokens}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == oauth2.TokenPath {
			if n := s.exchanges.Add(1); n <= s.failTokens {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = fmt.Fprint(w, `{"access_token":"token"}`)
			return
		}
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *salesforce) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func testConfig(host string) *config.Config {
	return &config.Config{
		SalesforceHost:     host,
		SalesforceUsername: "username",
		SalesforcePassword: "password",
		ConsumerKey:        "key",
		ConsumerSecret:     "secret",
		EventPath:          "services/apexrest/events",
		EventMethodType:    "POST",
		EventsToInclude:    "$pageview",
		Port:               "8080",
		LogLevel:           "info",
		RedisDB:            "0",
		BufferLimitBytes:   "1048576",
		BufferInterval:     "1h",
		SetupMaxAttempts:   "0",
	}
}

func fastRetry(attempts int) Option {
	return WithSetupRetry(utils.RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	})
}

func TestNew_TokenStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("memory without redis", func(t *testing.T) {
		app, err := New(ctx, testConfig("http://bbc.co.uk"), WithLogger(logging.Nop()))
		require.NoError(t, err)
		defer app.Cleanup()

		assert.Nil(t, app.RedisClient)
		assert.IsType(t, &oauth2.MemoryTokenStorage{}, app.TokenStorage)
		assert.Nil(t, app.RefreshLock)
	})

	t.Run("redis when reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig("http://bbc.co.uk")
		cfg.RedisAddress = mr.Addr()

		app, err := New(ctx, cfg, WithLogger(logging.Nop()))
		require.NoError(t, err)
		defer app.Cleanup()

		require.NotNil(t, app.RedisClient)
		assert.IsType(t, &oauth2.RedisTokenStorage{}, app.TokenStorage)
		assert.NotNil(t, app.RefreshLock)

		require.NoError(t, app.TokenStorage.Set(ctx, oauth2.TokenCacheKey, "abc", time.Hour))
		assert.True(t, mr.Exists(tokenKeyPrefix+oauth2.TokenCacheKey))
	})

	t.Run("memory when redis is down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig("http://bbc.co.uk")
		cfg.RedisAddress = addr

		app, err := New(ctx, cfg, WithLogger(logging.Nop()))
		require.NoError(t, err)
		defer app.Cleanup()

		assert.Nil(t, app.RedisClient)
		assert.IsType(t, &oauth2.MemoryTokenStorage{}, app.TokenStorage)
		assert.Nil(t, app.RefreshLock)
	})
}

func TestSetup_RetriesWhileRetryable(t *testing.T) {
	sf := newSalesforce(t, 2)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	app, err := New(context.Background(), testConfig(sf.URL),
		WithLogger(logging.Nop()), WithMeterProvider(provider), fastRetry(5))
	require.NoError(t, err)
	defer app.Cleanup()

	require.NoError(t, app.Setup(context.Background()))
	defer app.Shutdown(context.Background())

	assert.True(t, app.Pipeline.Ready())
	assert.Equal(t, int32(3), sf.exchanges.Load())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var exchanges int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "salesforce.token.exchanges" {
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					exchanges += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), exchanges)
}

func TestHandler_ServesRuntimeMetrics(t *testing.T) {
	sf := newSalesforce(t, 1)
	ctx := context.Background()

	app, err := New(ctx, testConfig(sf.URL), WithLogger(logging.Nop()), fastRetry(3))
	require.NoError(t, err)
	defer app.Cleanup()
	require.NoError(t, app.Setup(ctx))
	defer app.Shutdown(ctx)

	ts := httptest.NewServer(app.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/events", "application/json",
		strings.NewReader(`{"event":"$pageview","properties":{"a":1}}`))
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = http.Post(ts.URL+"/flush", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Metrics []metrics.Metric `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	totals := map[string]int64{}
	for _, m := range body.Metrics {
		for _, p := range m.Points {
			totals[m.Name] += p.Value
		}
	}
	assert.Equal(t, int64(2), totals["salesforce.token.exchanges"])
	assert.Equal(t, int64(1), totals["salesforce.requests.total"])
	assert.Equal(t, int64(1), totals["salesforce.buffer.flushes"])

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	var report struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(health.Body).Decode(&report))
	assert.Equal(t, "ok", report.Checks["token_endpoint"])
}

func TestSetup_GivesUpAfterMaxAttempts(t *testing.T) {
	sf := newSalesforce(t, 100)

	app, err := New(context.Background(), testConfig(sf.URL), WithLogger(logging.Nop()), fastRetry(3))
	require.NoError(t, err)
	defer app.Cleanup()

	err = app.Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	assert.Equal(t, int32(3), sf.exchanges.Load())
	assert.False(t, app.Pipeline.Ready())
}

func TestSetup_ConfigErrorIsNotRetried(t *testing.T) {
	sf := newSalesforce(t, 0)
	cfg := testConfig(sf.URL)
	cfg.EventsToInclude = ""

	app, err := New(context.Background(), cfg, WithLogger(logging.Nop()), fastRetry(5))
	require.NoError(t, err)
	defer app.Cleanup()

	err = app.Setup(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.NotContains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(0), sf.exchanges.Load())
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)
}

func TestRun_ServesAndFlushesOnShutdown(t *testing.T) {
	sf := newSalesforce(t, 0)
	cfg := testConfig(sf.URL)
	cfg.Port = freePort(t)
	base := "http://127.0.0.1:" + cfg.Port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, WithLogger(logging.Nop()), fastRetry(0))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/events", "application/json",
		strings.NewReader(`{"event":"$pageview","properties":{"$current_url":"https://example.com"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Empty(t, sf.delivered(), "buffered until shutdown")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"/services/apexrest/events"}, sf.delivered())
}

func TestRun_StopsOnConfigError(t *testing.T) {
	cfg := testConfig("ftp://bbc.co.uk")
	cfg.Port = freePort(t)

	err := Run(context.Background(), cfg, WithLogger(logging.Nop()), fastRetry(0))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestCheck(t *testing.T) {
	sf := newSalesforce(t, 0)
	ctx := context.Background()

	report, err := Check(ctx, testConfig(sf.URL), false, WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.Equal(t, "include_list", report.Routing)
	assert.False(t, report.TokenFetched)
	assert.Equal(t, int32(0), sf.exchanges.Load())

	report, err = Check(ctx, testConfig(sf.URL), true, WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.True(t, report.TokenFetched)
	assert.Equal(t, int32(1), sf.exchanges.Load())

	bad := testConfig(sf.URL)
	bad.EventEndpointMapping = `{"$pageview":{"salesforcePath":"x"}}`
	_, err = Check(ctx, bad, false, WithLogger(logging.Nop()))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	invalid := testConfig(sf.URL)
	invalid.Port = "0"
	_, err = Check(ctx, invalid, false, WithLogger(logging.Nop()))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
