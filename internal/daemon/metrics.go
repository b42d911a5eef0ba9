package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/yairfalse/fundeploy/daemon"

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	reconciliations        metric.Int64Counter
	reconciliationDuration metric.Float64Histogram
	resources              metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.GetMeterProvider())
}

func newDaemonMetrics(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter(meterName)

	reconciliations, err := meter.Int64Counter(
		"fundeploy.daemon.reconciliations",
		metric.WithDescription("Number of reconciliation runs"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return nil, err
	}

	reconciliationDuration, err := meter.Float64Histogram(
		"fundeploy.daemon.reconciliation.duration",
		metric.WithDescription("Duration of reconciliation runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	resources, err := meter.Int64Gauge(
		"fundeploy.resources",
		metric.WithDescription("Resources per outcome in the last reconciliation run"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		reconciliations:        reconciliations,
		reconciliationDuration: reconciliationDuration,
		resources:              resources,
	}, nil
}

// RecordReconciliation records a reconciliation run with status
func (m *DaemonMetrics) RecordReconciliation(ctx context.Context, status string, backend string, template string) {
	m.reconciliations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("backend", backend),
			attribute.String("template", template),
		),
	)
}

// RecordReconciliationDuration records reconciliation duration
func (m *DaemonMetrics) RecordReconciliationDuration(ctx context.Context, durationSeconds float64, status string) {
	m.reconciliationDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// RecordResources records how many resources ended in a status
func (m *DaemonMetrics) RecordResources(ctx context.Context, count int64, status string, backend string) {
	m.resources.Record(ctx, count,
		metric.WithAttributes(
			attribute.String("resource.status", status),
			attribute.String("backend", backend),
		),
	)
}
