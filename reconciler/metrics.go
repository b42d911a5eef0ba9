package reconciler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/yairfalse/fundeploy/reconciler"

// engineMetrics holds reconciliation metrics using OTEL semantic conventions
type engineMetrics struct {
	steps        metric.Int64Counter
	calls        metric.Int64Counter
	retries      metric.Int64Counter
	callDuration metric.Float64Histogram
	inFlight     metric.Int64UpDownCounter
}

func newEngineMetrics() (*engineMetrics, error) {
	meter := otel.Meter(instrumentationName)

	steps, err := meter.Int64Counter(
		"fundeploy.reconcile.steps",
		metric.WithDescription("Number of planned resources by final status"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter(
		"fundeploy.primitive.calls",
		metric.WithDescription("Number of primitive calls issued to the backend"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"fundeploy.primitive.retries",
		metric.WithDescription("Number of primitive calls retried after a transient failure"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	callDuration, err := meter.Float64Histogram(
		"fundeploy.primitive.duration",
		metric.WithDescription("Duration of a resource's reconciliation including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"fundeploy.primitive.in_flight",
		metric.WithDescription("Primitive calls currently running"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &engineMetrics{
		steps:        steps,
		calls:        calls,
		retries:      retries,
		callDuration: callDuration,
		inFlight:     inFlight,
	}, nil
}

func (m *engineMetrics) recordStep(ctx context.Context, kind, status string) {
	m.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource.kind", kind),
		attribute.String("status", status),
	))
}

func (m *engineMetrics) recordCall(ctx context.Context, kind, backend, outcome string) {
	m.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource.kind", kind),
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}

func (m *engineMetrics) recordRetry(ctx context.Context, kind string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("resource.kind", kind)))
}

func (m *engineMetrics) recordDuration(ctx context.Context, kind string, d time.Duration) {
	m.callDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("resource.kind", kind)))
}
