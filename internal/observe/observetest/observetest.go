// Package observetest builds isolated metric instruments for tests and reads
// their values back.
package observetest

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/clarimeet/clarimeet/internal/observe"
)

// Reader collects metrics recorded on instruments from [NewMetrics].
type Reader struct {
	t      testing.TB
	reader *sdkmetric.ManualReader
}

// NewMetrics returns Metrics backed by a manual reader that is shut down when
// the test ends.
func NewMetrics(t testing.TB) (*observe.Metrics, *Reader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("observe.NewMetrics: %v", err)
	}
	return m, &Reader{t: t, reader: reader}
}

// Find returns the named metric, or nil when nothing was recorded on it.
func (r *Reader) Find(name string) *metricdata.Metrics {
	r.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		r.t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// Sum returns the total of an int64 counter across data points whose
// attributes contain every key/value pair in match (given as alternating
// key, value strings).
func (r *Reader) Sum(name string, match ...string) int64 {
	r.t.Helper()
	met := r.Find(name)
	if met == nil {
		return 0
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		r.t.Fatalf("metric %q is %T, not an int64 sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if matches(dp.Attributes.ToSlice(), match) {
			total += dp.Value
		}
	}
	return total
}

// HistogramCount returns the number of samples recorded on a float64
// histogram.
func (r *Reader) HistogramCount(name string) uint64 {
	r.t.Helper()
	met := r.Find(name)
	if met == nil {
		return 0
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		r.t.Fatalf("metric %q is %T, not a float64 histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}
