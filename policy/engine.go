package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/fundeploy/telemetry"
	"github.com/yairfalse/fundeploy/types"
)

// Query is the rule every policy module contributes to. Policies declare
// `package fundeploy` and add messages to the `deny` set.
const Query = "data.fundeploy.deny"

// Engine evaluates Rego policies against a normalized template before anything is deployed.
// Evaluation is read-only and does no I/O.
type Engine struct {
	logger *telemetry.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	queries map[string]rego.PreparedEvalQuery
}

// Input is the document policies see as `input`
type Input struct {
	Resources []*types.Resource `json:"resources"`
}

// NewEngine creates a policy engine with no policies loaded
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy-engine"),
		tracer:  otel.Tracer("policy-engine"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a Rego module under the given name
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query(Query),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("policy_name", name).
			Msg("failed to compile policy")
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.mu.Lock()
	e.queries[name] = prepared
	e.mu.Unlock()

	e.logger.WithContext(ctx).Debug().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// Len returns the number of loaded policies
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queries)
}

// Evaluate runs every loaded policy against the graph.
// Violations are sorted by policy name, then resource, then message.
func (e *Engine) Evaluate(ctx context.Context, graph *types.Graph) ([]Violation, error) {
	ctx, span := e.tracer.Start(ctx, "policy_engine.evaluate",
		trace.WithAttributes(attribute.Int("graph.resources", graph.Len())))
	defer span.End()

	e.mu.RLock()
	names := make([]string, 0, len(e.queries))
	for name := range e.queries {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)

	input := Input{Resources: graph.Resources}

	var violations []Violation
	for _, name := range names {
		e.mu.RLock()
		query := e.queries[name]
		e.mu.RUnlock()

		found, err := e.evaluatePolicy(ctx, name, query, input)
		if err != nil {
			return nil, err
		}
		violations = append(violations, found...)
	}

	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.Message < b.Message
	})

	e.logger.WithContext(ctx).Info().
		Int("loaded_policies", len(names)).
		Int("violations", len(violations)).
		Msg("policy evaluation complete")

	return violations, nil
}

// Check evaluates the graph and turns any violation into a *types.PolicyError
func (e *Engine) Check(ctx context.Context, graph *types.Graph) error {
	violations, err := e.Evaluate(ctx, graph)
	if err != nil {
		return err
	}
	return Denied(violations)
}

// Denied turns violations into a *types.PolicyError, or nil when there are none
func Denied(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}

	denials := make([]string, len(violations))
	for i, v := range violations {
		denials[i] = v.String()
	}
	return &types.PolicyError{Denials: denials}
}

func (e *Engine) evaluatePolicy(ctx context.Context, name string, query rego.PreparedEvalQuery, input Input) ([]Violation, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy %s: %w", name, err)
	}

	var violations []Violation
	for _, res := range results {
		for _, expr := range res.Expressions {
			violations = append(violations, parseDenials(name, expr.Value)...)
		}
	}
	return violations, nil
}

// parseDenials reads a deny set. Members are either plain messages or
// objects with "msg" and an optional "resource".
func parseDenials(policy string, value any) []Violation {
	items, ok := value.([]any)
	if !ok {
		return nil
	}

	violations := make([]Violation, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			violations = append(violations, Violation{Policy: policy, Message: v})
		case map[string]any:
			msg, _ := v["msg"].(string)
			resource, _ := v["resource"].(string)
			violations = append(violations, Violation{Policy: policy, ResourceID: resource, Message: msg})
		default:
			violations = append(violations, Violation{Policy: policy, Message: fmt.Sprint(v)})
		}
	}
	return violations
}
