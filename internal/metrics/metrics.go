// Package metrics records delivery counters through OpenTelemetry.
package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "salesforce-router"

// Recorder records pipeline metrics.
// Use New for OTel metrics or Noop{} when disabled.
type Recorder interface {
	// RecordRequest records one sink request. status is 0 when no response
	// was received.
	RecordRequest(ctx context.Context, event string, status int, err error)

	// RecordTokenExchange records one credential exchange.
	RecordTokenExchange(ctx context.Context, err error)

	// RecordFlush records one buffer flush and how many events it drained.
	RecordFlush(ctx context.Context, events int, err error)
}

type otelMetrics struct {
	requests       metric.Int64Counter
	requestErrors  metric.Int64Counter
	tokenExchanges metric.Int64Counter
	flushes        metric.Int64Counter
	flushedEvents  metric.Int64Histogram
}

// New creates an OTel recorder from provider, or from the global meter
// provider when provider is nil.
func New(provider metric.MeterProvider) (Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter("salesforce.requests.total",
		metric.WithDescription("Number of requests sent to event sinks"),
	)
	if err != nil {
		return nil, err
	}

	requestErrors, err := meter.Int64Counter("salesforce.requests.errors",
		metric.WithDescription("Number of sink requests that failed"),
	)
	if err != nil {
		return nil, err
	}

	tokenExchanges, err := meter.Int64Counter("salesforce.token.exchanges",
		metric.WithDescription("Number of OAuth2 credential exchanges"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64Counter("salesforce.buffer.flushes",
		metric.WithDescription("Number of buffer flushes"),
	)
	if err != nil {
		return nil, err
	}

	flushedEvents, err := meter.Int64Histogram("salesforce.buffer.flush_size",
		metric.WithDescription("Events drained per flush"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		requests:       requests,
		requestErrors:  requestErrors,
		tokenExchanges: tokenExchanges,
		flushes:        flushes,
		flushedEvents:  flushedEvents,
	}, nil
}

func (m *otelMetrics) RecordRequest(ctx context.Context, event string, status int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	if err != nil {
		m.requestErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordTokenExchange(ctx context.Context, err error) {
	m.tokenExchanges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
}

func (m *otelMetrics) RecordFlush(ctx context.Context, events int, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.flushes.Add(ctx, 1, attrs)
	m.flushedEvents.Record(ctx, int64(events), attrs)
}

// Noop is a Recorder that does nothing
type Noop struct{}

var _ Recorder = Noop{}

// RecordRequest does nothing.
func (Noop) RecordRequest(context.Context, string, int, error) {}

// RecordTokenExchange does nothing.
func (Noop) RecordTokenExchange(context.Context, error) {}

// RecordFlush does nothing.
func (Noop) RecordFlush(context.Context, int, error) {}
