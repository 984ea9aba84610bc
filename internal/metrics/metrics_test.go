package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupRecorder(t *testing.T) (Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	recorder, err := New(provider)
	require.NoError(t, err)
	return recorder, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "expected Sum for %s", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestRecorder_Requests(t *testing.T) {
	recorder, reader := setupRecorder(t)
	ctx := context.Background()

	recorder.RecordRequest(ctx, "$pageview", 200, nil)
	recorder.RecordRequest(ctx, "$pageview", 500, errors.New("rejected"))
	recorder.RecordRequest(ctx, "signup", 0, errors.New("timeout"))

	rm := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, rm, "salesforce.requests.total"))
	assert.Equal(t, int64(2), sumOf(t, rm, "salesforce.requests.errors"))
}

func TestRecorder_TokenExchangesAndFlushes(t *testing.T) {
	recorder, reader := setupRecorder(t)
	ctx := context.Background()

	recorder.RecordTokenExchange(ctx, nil)
	recorder.RecordTokenExchange(ctx, errors.New("denied"))
	recorder.RecordFlush(ctx, 3, nil)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "salesforce.token.exchanges"))
	assert.Equal(t, int64(1), sumOf(t, rm, "salesforce.buffer.flushes"))
}

func TestNew_GlobalProvider(t *testing.T) {
	recorder, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, recorder)
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	assert.NotPanics(t, func() {
		r.RecordRequest(context.Background(), "e", 200, nil)
		r.RecordTokenExchange(context.Background(), nil)
		r.RecordFlush(context.Background(), 1, nil)
	})
}
