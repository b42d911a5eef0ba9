package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordStageFailedEvent marks the pipeline stage that stopped a deployment
func RecordStageFailedEvent(span trace.Span, stage string, template string, err error) {
	if span == nil || err == nil {
		return
	}

	span.AddEvent("deploy.stage.failed", trace.WithAttributes(
		attribute.String("event.type", "deploy.stage.failed"),
		attribute.String("stage", stage),
		attribute.String("template", template),
		attribute.String("message", err.Error()),
	))
}

// RecordPolicyDenialEvent emits one event per policy denial
func RecordPolicyDenialEvent(span trace.Span, policy string, resourceID string, message string) {
	if span == nil {
		return
	}

	span.AddEvent("deploy.policy.denied", trace.WithAttributes(
		attribute.String("event.type", "deploy.policy.denied"),
		attribute.String("policy", policy),
		attribute.String("resource.id", resourceID),
		attribute.String("message", message),
	))
}

// RecordPlanResolvedEvent records the size and shape of a resolved plan
func RecordPlanResolvedEvent(span trace.Span, steps int, levels int, units int) {
	if span == nil {
		return
	}

	span.AddEvent("deploy.plan.resolved", trace.WithAttributes(
		attribute.String("event.type", "deploy.plan.resolved"),
		attribute.Int("plan.steps", steps),
		attribute.Int("plan.levels", levels),
		attribute.Int("plan.units", units),
	))
}

// RecordDeployCompletedEvent summarizes a finished deployment
func RecordDeployCompletedEvent(span trace.Span, backend string, realized, failed, skipped, cancelled int) {
	if span == nil {
		return
	}

	span.AddEvent("deploy.completed", trace.WithAttributes(
		attribute.String("event.type", "deploy.completed"),
		attribute.String("backend", backend),
		attribute.Int("resources.realized", realized),
		attribute.Int("resources.failed", failed),
		attribute.Int("resources.skipped", skipped),
		attribute.Int("resources.cancelled", cancelled),
		attribute.Bool("success", failed == 0 && skipped == 0 && cancelled == 0),
	))
}
