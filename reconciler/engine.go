// Package reconciler realizes a resolved plan by driving the backend's
// primitives in dependency order.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/btree"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/report"
	"github.com/yairfalse/fundeploy/resolver"
	"github.com/yairfalse/fundeploy/telemetry"
	"github.com/yairfalse/fundeploy/types"
	"github.com/yairfalse/fundeploy/wal"
)

// Options configure reconciler behavior
type Options struct {
	// Parallelism bounds concurrent primitive calls. 1 reproduces plan order.
	Parallelism int `json:"parallelism"`
	// MaxRetries is how often a transient failure is retried.
	MaxRetries     uint          `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	// MaxElapsed bounds the time spent retrying one resource.
	MaxElapsed time.Duration `json:"max_elapsed"`
}

// DefaultOptions returns the reconciler defaults
func DefaultOptions() Options {
	return Options{
		Parallelism:    4,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		MaxElapsed:     2 * time.Minute,
	}
}

// Option customizes an Engine
type Option func(*Engine)

// WithOptions replaces the scheduling and retry options
func WithOptions(opts Options) Option {
	return func(e *Engine) { e.opts = opts }
}

// WithParallelism bounds concurrent primitive calls
func WithParallelism(n int) Option {
	return func(e *Engine) { e.opts.Parallelism = n }
}

// WithJournal writes every call to j
func WithJournal(j wal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the engine logger
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine drives one reconciliation run
type Engine struct {
	primitives providers.Primitives
	agg        *report.Aggregator
	opts       Options
	journal    wal.Journal
	logger     *telemetry.Logger
	tracer     trace.Tracer
	metrics    *engineMetrics
}

// NewEngine creates a reconciler writing outcomes to agg
func NewEngine(primitives providers.Primitives, agg *report.Aggregator, opts ...Option) (*Engine, error) {
	metrics, err := newEngineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler metrics: %w", err)
	}

	e := &Engine{
		primitives: primitives,
		agg:        agg,
		opts:       DefaultOptions(),
		journal:    wal.Nop(),
		tracer:     otel.Tracer(instrumentationName),
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = telemetry.NewLogger("reconciler")
	}
	if e.opts.Parallelism <= 0 {
		e.opts.Parallelism = 1
	}
	return e, nil
}

// stepCall is what the journal records for a primitive call
type stepCall struct {
	Kind    types.Kind `json:"kind"`
	Name    string     `json:"name"`
	Unit    string     `json:"unit"`
	Backend string     `json:"backend"`
	Attempt int        `json:"attempt,omitempty"`
}

// runSummary is journaled at the start and end of a run
type runSummary struct {
	Backend  string         `json:"backend"`
	Steps    int            `json:"steps"`
	Counts   map[string]int `json:"counts,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// run is the state of one Reconcile call. Only the scheduling loop touches
// pending and ready. Step outcomes go through the aggregator.
type run struct {
	*Engine
	plan    *resolver.Plan
	pending map[string]int
	ready   *btree.BTreeG[*resolver.Step]
}

// Reconcile realizes every step of plan. Steps whose dependencies failed are
// skipped, independent steps continue. When ctx is cancelled, calls already
// running finish, nothing new is issued, and the report is returned together
// with the context error.
func (e *Engine) Reconcile(ctx context.Context, plan *resolver.Plan) (*report.Report, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "reconcile", trace.WithAttributes(
		attribute.Int("plan.steps", plan.Len()),
		attribute.String("backend", e.primitives.Name()),
		attribute.Int("parallelism", e.opts.Parallelism),
	))
	defer span.End()

	e.logger.LogReconcileStart(ctx, plan.Len(), e.opts.Parallelism)
	e.appendJournal(wal.EntryPlanned, "", runSummary{Backend: e.primitives.Name(), Steps: plan.Len()}, nil)

	r := &run{
		Engine:  e,
		plan:    plan,
		pending: make(map[string]int, plan.Len()),
		ready: btree.NewG(2, func(a, b *resolver.Step) bool {
			return a.Index < b.Index
		}),
	}
	for _, step := range plan.Steps {
		r.pending[step.ID()] = len(step.DependsOn)
		if len(step.DependsOn) == 0 {
			r.ready.ReplaceOrInsert(step)
		}
	}

	r.schedule(ctx)

	rep := e.agg.Finalize(plan)
	for _, id := range rep.Order {
		entry := rep.Resources[id]
		if entry.Status == report.StatusCancelled {
			e.appendJournal(wal.EntryCancelled, id, stepCall{Kind: entry.Kind, Name: entry.Name, Unit: entry.Unit}, nil)
		}
		e.metrics.recordStep(ctx, string(entry.Kind), string(entry.Status))
	}

	counts := map[string]int{}
	for _, s := range []report.Status{report.StatusRealized, report.StatusFailed, report.StatusSkipped, report.StatusCancelled} {
		counts[string(s)] = rep.Count(s)
	}
	e.appendJournal(wal.EntryCompleted, "", runSummary{
		Backend:  e.primitives.Name(),
		Steps:    plan.Len(),
		Counts:   counts,
		Duration: time.Since(start),
	}, nil)
	e.logger.LogReconcileComplete(ctx, counts["realized"], counts["failed"], counts["skipped"], time.Since(start))

	if len(rep.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d resource(s) failed", len(rep.Failures)))
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return rep, fmt.Errorf("reconciliation interrupted: %w", err)
	}
	return rep, nil
}

// schedule issues ready steps lowest plan index first, at most Parallelism at
// a time, until nothing is running and nothing more can be issued.
func (r *run) schedule(ctx context.Context) {
	// In-flight calls are not interrupted by cancellation.
	callCtx := context.WithoutCancel(ctx)
	done := make(chan report.Result, r.plan.Len())

	var g errgroup.Group
	g.SetLimit(r.opts.Parallelism)

	inFlight := 0
	for {
		for inFlight < r.opts.Parallelism && r.ready.Len() > 0 && ctx.Err() == nil {
			step, _ := r.ready.DeleteMin()
			inFlight++
			g.Go(func() error {
				done <- r.realize(ctx, callCtx, step)
				return nil
			})
		}
		if inFlight == 0 {
			break
		}

		res := <-done
		inFlight--
		r.agg.Record(res)
		r.advance(ctx, res)
	}

	_ = g.Wait()
}

// advance unblocks dependents of a realized step, or skips the dependents of a failed one
func (r *run) advance(ctx context.Context, res report.Result) {
	switch res.Status {
	case report.StatusRealized:
		for _, id := range r.plan.Dependents(res.ID) {
			r.pending[id]--
			if r.pending[id] > 0 {
				continue
			}
			if _, decided := r.agg.Status(id); decided {
				continue
			}
			step, _ := r.plan.Step(id)
			r.ready.ReplaceOrInsert(step)
		}
	case report.StatusFailed:
		r.skipDependents(ctx, res.ID)
	}
}

// skipDependents marks every transitive dependent of failed as skipped
func (r *run) skipDependents(ctx context.Context, failed string) {
	queue := r.plan.Dependents(failed)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, decided := r.agg.Status(id); decided {
			continue
		}
		step, _ := r.plan.Step(id)
		r.agg.Record(report.Result{ID: id, Status: report.StatusSkipped, Cause: failed})
		r.appendJournal(wal.EntrySkipped, id, r.call(step, 0), nil)
		r.logger.WithContext(ctx).Warn().
			Str("resource_id", id).
			Str("cause", failed).
			Msg("skipping resource, dependency failed")
		queue = append(queue, r.plan.Dependents(id)...)
	}
}

// realize runs one step with retries. ctx decides whether another attempt may
// be issued, callCtx is what the primitive runs under.
func (r *run) realize(ctx, callCtx context.Context, step *resolver.Step) report.Result {
	start := time.Now()
	id := step.ID()
	kind := string(step.Resource.Kind)
	backendName := r.primitives.Name()

	callCtx, span := r.tracer.Start(callCtx, "reconcile."+kind, trace.WithAttributes(
		attribute.String("resource.id", id),
		attribute.String("resource.kind", kind),
		attribute.String("resource.unit", step.Unit),
	))
	defer span.End()

	r.metrics.inFlight.Add(callCtx, 1)
	defer r.metrics.inFlight.Add(callCtx, -1)

	if ctx.Err() != nil {
		return r.finish(callCtx, span, step, report.Result{ID: id, Status: report.StatusCancelled}, start)
	}

	h, ok := handlers[step.Resource.Kind]
	if !ok {
		err := types.Permanentf("reconcile", "no handler for kind %s", kind)
		return r.finish(callCtx, span, step, report.Result{ID: id, Status: report.StatusFailed, Err: err}, start)
	}

	attempts := 0
	var lastErr error
	operation := func() (types.Handle, error) {
		attempts++
		r.appendJournal(wal.EntryIssued, id, r.call(step, attempts), nil)

		handle, err := h(callCtx, r, step)
		if err == nil {
			r.metrics.recordCall(callCtx, kind, backendName, "ok")
			return handle, nil
		}
		lastErr = err
		if types.IsTransient(err) {
			r.metrics.recordCall(callCtx, kind, backendName, "transient")
			return handle, err
		}
		r.metrics.recordCall(callCtx, kind, backendName, "permanent")
		return handle, backoff.Permanent(err)
	}

	handle, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.opts.MaxRetries+1),
		backoff.WithMaxElapsedTime(r.opts.MaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.metrics.recordRetry(callCtx, kind)
			r.appendJournal(wal.EntryRetried, id, r.call(step, attempts), err)
			r.logger.LogRetry(callCtx, id, err, wait)
		}),
	)

	res := report.Result{ID: id, Attempts: attempts}
	switch {
	case err == nil:
		res.Status = report.StatusRealized
		res.Handle = handle
	case ctx.Err() != nil && !types.IsPermanent(lastErr) && errors.Is(err, context.Cause(ctx)):
		// Stopped between attempts because the run was cancelled.
		res.Status = report.StatusCancelled
		res.Err = lastErr
	default:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		res.Status = report.StatusFailed
		res.Err = err
	}
	return r.finish(callCtx, span, step, res, start)
}

func (r *run) finish(ctx context.Context, span trace.Span, step *resolver.Step, res report.Result, start time.Time) report.Result {
	res.Duration = time.Since(start)
	kind := string(step.Resource.Kind)
	r.metrics.recordDuration(ctx, kind, res.Duration)
	span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Int("attempts", res.Attempts))

	switch res.Status {
	case report.StatusRealized:
		r.appendJournal(wal.EntryRealized, res.ID, res.Handle, nil)
		r.logger.WithContext(ctx).Debug().
			Str("resource_id", res.ID).
			Str("kind", kind).
			Str("handle_id", res.Handle.ID).
			Int("attempts", res.Attempts).
			Msg("resource realized")
	case report.StatusFailed:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		r.appendJournal(wal.EntryFailed, res.ID, r.call(step, res.Attempts), res.Err)
		r.logger.LogStepFailed(ctx, res.ID, kind, res.Err)
	case report.StatusCancelled:
		r.appendJournal(wal.EntryCancelled, res.ID, r.call(step, res.Attempts), res.Err)
	}
	return res
}

func (r *run) call(step *resolver.Step, attempt int) stepCall {
	return stepCall{
		Kind:    step.Resource.Kind,
		Name:    step.Resource.Name,
		Unit:    step.Unit,
		Backend: r.primitives.Name(),
		Attempt: attempt,
	}
}

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if e.opts.InitialBackoff > 0 {
		b.InitialInterval = e.opts.InitialBackoff
	}
	if e.opts.MaxBackoff > 0 {
		b.MaxInterval = e.opts.MaxBackoff
	}
	return b
}

// appendJournal writes to the journal. A journal failure never fails a step.
func (e *Engine) appendJournal(entryType wal.EntryType, id string, data any, callErr error) {
	var err error
	if callErr != nil {
		err = e.journal.AppendError(entryType, id, data, callErr)
	} else {
		err = e.journal.Append(entryType, id, data)
	}
	if err != nil {
		e.logger.LogJournalError(context.Background(), id, string(entryType), err)
	}
}
