package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newTestMetrics(t *testing.T) (*DaemonMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	dm, err := newDaemonMetrics(provider)
	require.NoError(t, err)
	return dm, reader
}

func TestDaemonMetrics_RecordReconciliation(t *testing.T) {
	dm, reader := newTestMetrics(t)

	dm.RecordReconciliation(context.Background(), "success", "local", "fc.yml")

	m, ok := collect(t, reader)["fundeploy.daemon.reconciliations"]
	require.True(t, ok)
	assert.Equal(t, "{reconciliation}", m.Unit)

	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	dp := sum.DataPoints[0]
	assert.Equal(t, int64(1), dp.Value)

	attrs := dp.Attributes.ToSlice()
	assert.Contains(t, attrs, attribute.String("status", "success"))
	assert.Contains(t, attrs, attribute.String("backend", "local"))
	assert.Contains(t, attrs, attribute.String("template", "fc.yml"))
}

func TestDaemonMetrics_RecordReconciliationDuration(t *testing.T) {
	dm, reader := newTestMetrics(t)

	dm.RecordReconciliationDuration(context.Background(), 5.5, "failed")

	m, ok := collect(t, reader)["fundeploy.daemon.reconciliation.duration"]
	require.True(t, ok)

	hist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	assert.Equal(t, 5.5, dp.Sum)
	assert.Equal(t, uint64(1), dp.Count)
	assert.Contains(t, dp.Attributes.ToSlice(), attribute.String("status", "failed"))
}

func TestDaemonMetrics_HistogramBuckets(t *testing.T) {
	dm, reader := newTestMetrics(t)

	for _, d := range []float64{0.5, 3.0, 8.0, 25.0, 45.0, 90.0, 180.0} {
		dm.RecordReconciliationDuration(context.Background(), d, "success")
	}

	m := collect(t, reader)["fundeploy.daemon.reconciliation.duration"]
	hist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)

	dp := hist.DataPoints[0]
	assert.Equal(t, []float64{1, 5, 10, 30, 60, 120, 300}, dp.Bounds)
	assert.Equal(t, []uint64{1, 1, 1, 1, 1, 1, 1, 0}, dp.BucketCounts)
	assert.Equal(t, uint64(7), dp.Count)
}

func TestDaemonMetrics_RecordResources(t *testing.T) {
	dm, reader := newTestMetrics(t)
	ctx := context.Background()

	dm.RecordResources(ctx, 5, "realized", "local")
	dm.RecordResources(ctx, 1, "failed", "local")
	dm.RecordResources(ctx, 4, "realized", "local")

	m, ok := collect(t, reader)["fundeploy.resources"]
	require.True(t, ok)

	gauge := m.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 2)

	values := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		status, _ := dp.Attributes.Value("resource.status")
		values[status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"realized": 4, "failed": 1}, values)
}
