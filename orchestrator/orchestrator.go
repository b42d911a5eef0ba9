// Package orchestrator runs the deploy pipeline for one template:
// validate, normalize, policy, resolve, reconcile.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/fundeploy/internal/filter"
	"github.com/yairfalse/fundeploy/normalizer"
	"github.com/yairfalse/fundeploy/policy"
	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/reconciler"
	"github.com/yairfalse/fundeploy/report"
	"github.com/yairfalse/fundeploy/resolver"
	"github.com/yairfalse/fundeploy/schema"
	"github.com/yairfalse/fundeploy/telemetry"
	"github.com/yairfalse/fundeploy/template"
	"github.com/yairfalse/fundeploy/types"
)

// Deployer coordinates validate → normalize → policy → resolve → reconcile
type Deployer struct {
	primitives providers.Primitives
	policies   *policy.Engine
	filter     *filter.Filter
	engineOpts []reconciler.Option
	recorder   Recorder
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// Option customizes a Deployer
type Option func(*Deployer)

// WithPolicies gates every deployment on the loaded policies
func WithPolicies(engine *policy.Engine) Option {
	return func(d *Deployer) { d.policies = engine }
}

// WithFilter deploys only the part of each template f selects
func WithFilter(f *filter.Filter) Option {
	return func(d *Deployer) { d.filter = f }
}

// WithReconcilerOptions passes options to the reconciler of every run
func WithReconcilerOptions(opts ...reconciler.Option) Option {
	return func(d *Deployer) { d.engineOpts = append(d.engineOpts, opts...) }
}

// WithRecorder reports deployment metrics to r
func WithRecorder(r Recorder) Option {
	return func(d *Deployer) { d.recorder = r }
}

// WithLogger sets the deployer logger
func WithLogger(l *telemetry.Logger) Option {
	return func(d *Deployer) { d.logger = l }
}

// NewDeployer creates a deployer driving primitives.
// A deployer that only plans may pass nil primitives.
func NewDeployer(primitives providers.Primitives, opts ...Option) *Deployer {
	d := &Deployer{
		primitives: primitives,
		recorder:   nopRecorder{},
		tracer:     otel.Tracer("github.com/yairfalse/fundeploy/orchestrator"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = telemetry.NewLogger("orchestrator")
	}
	return d
}

// Plan runs every stage except reconciliation. It performs no primitive calls.
func (d *Deployer) Plan(ctx context.Context, doc *template.Document) (*resolver.Plan, error) {
	ctx, span := d.tracer.Start(ctx, "plan", trace.WithAttributes(
		attribute.String("template", doc.Path),
	))
	defer span.End()

	plan, err := d.plan(ctx, span, doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return plan, err
}

// Deploy plans the template and reconciles the plan against the backend.
// Resource failures are reported in the returned report, not as an error.
// The error is non-nil when a stage before reconciliation rejected the
// template or when ctx was cancelled mid-run. In the latter case the report
// is returned too.
func (d *Deployer) Deploy(ctx context.Context, doc *template.Document) (*report.Report, error) {
	start := time.Now()
	backend := d.primitives.Name()
	ctx, span := d.tracer.Start(ctx, "deploy", trace.WithAttributes(
		attribute.String("template", doc.Path),
		attribute.String("backend", backend),
	))
	defer span.End()

	plan, err := d.plan(ctx, span, doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.recorder.RecordDeploy(ctx, backend, "rejected", time.Since(start))
		return nil, err
	}

	d.logger.LogSpanStart(ctx, "reconcile", attribute.Int("plan.steps", plan.Len()))
	engine, err := reconciler.NewEngine(d.primitives, report.NewAggregator(), d.engineOpts...)
	if err != nil {
		return nil, d.stageFailed(ctx, span, doc, StageReconcile, err)
	}

	rep, err := engine.Reconcile(ctx, plan)
	d.logger.LogSpanEnd(ctx, "reconcile", err)

	telemetry.RecordDeployCompletedEvent(span, backend,
		rep.Count(report.StatusRealized),
		rep.Count(report.StatusFailed),
		rep.Count(report.StatusSkipped),
		rep.Count(report.StatusCancelled),
	)

	status := "success"
	switch {
	case err != nil:
		status = "cancelled"
		span.SetStatus(codes.Error, err.Error())
	case !rep.Succeeded():
		status = "failed"
		span.SetStatus(codes.Error, fmt.Sprintf("%d resource(s) failed", len(rep.Failures)))
	}
	d.recorder.RecordDeploy(ctx, backend, status, time.Since(start))

	d.logger.WithContext(ctx).Info().
		Str("template", doc.Path).
		Str("backend", backend).
		Str("status", status).
		Dur("duration", time.Since(start)).
		Msg("deployment finished")

	if err != nil {
		return rep, &StageError{Stage: StageReconcile, Err: err}
	}
	return rep, nil
}

func (d *Deployer) plan(ctx context.Context, span trace.Span, doc *template.Document) (*resolver.Plan, error) {
	if err := schema.Validate(doc); err != nil {
		return nil, d.stageFailed(ctx, span, doc, StageValidate, err)
	}

	graph, err := normalizer.Normalize(doc)
	if err != nil {
		return nil, d.stageFailed(ctx, span, doc, StageNormalize, err)
	}

	if err := d.checkPolicies(ctx, span, graph); err != nil {
		return nil, d.stageFailed(ctx, span, doc, StagePolicy, err)
	}

	plan, err := resolver.Resolve(graph)
	if err != nil {
		return nil, d.stageFailed(ctx, span, doc, StageResolve, err)
	}

	if d.filter != nil && !d.filter.IsEmpty() {
		graph, err = d.filter.Apply(graph, plan)
		if err != nil {
			return nil, d.stageFailed(ctx, span, doc, StageResolve, err)
		}
		if plan, err = resolver.Resolve(graph); err != nil {
			return nil, d.stageFailed(ctx, span, doc, StageResolve, err)
		}
	}

	levels, err := plan.Levels()
	if err != nil {
		return nil, d.stageFailed(ctx, span, doc, StageResolve, err)
	}
	telemetry.RecordPlanResolvedEvent(span, plan.Len(), len(levels), countUnits(plan))

	d.logger.WithContext(ctx).Debug().
		Str("template", doc.Path).
		Int("steps", plan.Len()).
		Int("levels", len(levels)).
		Msg("plan resolved")

	return plan, nil
}

func (d *Deployer) checkPolicies(ctx context.Context, span trace.Span, graph *types.Graph) error {
	if d.policies == nil || d.policies.Len() == 0 {
		return nil
	}

	violations, err := d.policies.Evaluate(ctx, graph)
	if err != nil {
		return fmt.Errorf("failed to evaluate policies: %w", err)
	}
	for _, v := range violations {
		telemetry.RecordPolicyDenialEvent(span, v.Policy, v.ResourceID, v.Message)
	}
	return policy.Denied(violations)
}

func (d *Deployer) stageFailed(ctx context.Context, span trace.Span, doc *template.Document, stage Stage, err error) error {
	telemetry.RecordStageFailedEvent(span, string(stage), doc.Path, err)
	d.recorder.RecordStageFailure(ctx, string(stage))

	d.logger.WithContext(ctx).Warn().
		Err(err).
		Str("template", doc.Path).
		Str("stage", string(stage)).
		Msg("deployment rejected")

	return &StageError{Stage: stage, Err: err}
}

func countUnits(plan *resolver.Plan) int {
	units := make(map[string]struct{})
	for _, s := range plan.Steps {
		units[s.Unit] = struct{}{}
	}
	return len(units)
}
