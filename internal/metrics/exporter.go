package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"salesforce-router/internal/common/logging"
)

// Provider is an SDK meter provider whose readings are pulled on demand,
// for example by the /metrics endpoint.
type Provider struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// NewProvider creates a meter provider backed by a manual reader
func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// MeterProvider is what New records through
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.provider
}

// Shutdown stops the provider; later snapshots fail
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

// Point is one attribute set of a metric
type Point struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Metric is the JSON view of one instrument. Histograms report the sum of
// recorded values in Value and the number of recordings in Count.
type Metric struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Kind        string  `json:"kind"`
	Points      []Point `json:"points"`
}

// Snapshot collects the current readings, sorted by name
func (p *Provider) Snapshot(ctx context.Context) ([]Metric, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	out := []Metric{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			view := Metric{Name: m.Name, Description: m.Description, Points: []Point{}}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				view.Kind = "counter"
				for _, dp := range data.DataPoints {
					view.Points = append(view.Points, Point{Attributes: attributes(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[int64]:
				view.Kind = "histogram"
				for _, dp := range data.DataPoints {
					view.Points = append(view.Points, Point{
						Attributes: attributes(dp.Attributes),
						Value:      dp.Sum,
						Count:      dp.Count,
					})
				}
			default:
				continue
			}
			out = append(out, view)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Handler serves Snapshot as JSON
func (p *Provider) Handler(logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := p.Snapshot(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			logger.Error("Failed to collect metrics", err)
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"metrics": snapshot})
	}
}

func attributes(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
