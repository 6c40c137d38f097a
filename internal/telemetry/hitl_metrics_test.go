package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt64(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestHITLMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewHITLMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordSuspension("blocking")
	m.RecordSuspension("non_blocking")
	m.RecordDecision("accepted")
	m.RecordResume("ok", 120*time.Millisecond)
	m.RecordWait("decided", 3*time.Second)
	m.SetActiveChannels(4)

	got := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumInt64(t, got["hitl.suspension.total"]))
	assert.Equal(t, int64(1), sumInt64(t, got["hitl.decision.total"]))
	assert.Equal(t, int64(1), sumInt64(t, got["hitl.resume.total"]))

	hist, ok := got["hitl.resume.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	gauge, ok := got["hitl.channel.active"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)
}

func TestNewHITLMetrics_NoopProviders(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	var p *Providers
	m, err := NewHITLMetrics(p.Meter())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordSuspension("blocking")
		m.SetActiveChannels(1)
	})
}
