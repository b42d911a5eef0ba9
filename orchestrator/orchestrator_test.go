package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/fundeploy/internal/filter"
	"github.com/yairfalse/fundeploy/policy"
	"github.com/yairfalse/fundeploy/providers/fake"
	"github.com/yairfalse/fundeploy/providers/local"
	"github.com/yairfalse/fundeploy/reconciler"
	"github.com/yairfalse/fundeploy/report"
	"github.com/yairfalse/fundeploy/telemetry"
	"github.com/yairfalse/fundeploy/template"
	"github.com/yairfalse/fundeploy/types"
)

const routed = `
fc:
  Type: 'Fun::Serverless::Service'
  Properties:
    Policies:
      - AliyunOSSFullAccess
  hello:
    Type: 'Fun::Serverless::Function'
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: './'
grp:
  Type: 'Fun::Serverless::Group'
  Properties:
    Description: 'routes'
route:
  Type: 'Fun::Serverless::Api'
  Properties:
    GroupName: grp
    Method: get
    RequestPath: /hello
    ServiceName: fc
    FunctionName: hello
`

// MockRecorder records deployment metrics
type MockRecorder struct {
	mu      sync.Mutex
	deploys []string
	stages  []string
}

func (m *MockRecorder) RecordDeploy(_ context.Context, backend, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deploys = append(m.deploys, backend+":"+status)
}

func (m *MockRecorder) RecordStageFailure(_ context.Context, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func parse(t *testing.T, src string) *template.Document {
	t.Helper()
	doc, err := template.Parse([]byte(src), template.FormatYAML)
	require.NoError(t, err)
	doc.Path = "test.yml"
	return doc
}

func newDeployer(p *fake.Primitives, rec *MockRecorder, opts ...Option) *Deployer {
	opts = append([]Option{
		WithLogger(telemetry.NewConsoleLogger("test", io.Discard)),
		WithRecorder(rec),
		WithReconcilerOptions(
			reconciler.WithLogger(telemetry.NewConsoleLogger("test", io.Discard)),
			reconciler.WithOptions(reconciler.Options{
				Parallelism:    1,
				MaxRetries:     1,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
				MaxElapsed:     time.Second,
			}),
		),
	}, opts...)
	return NewDeployer(p, opts...)
}

func TestDeployer_Deploy(t *testing.T) {
	p := fake.New()
	rec := &MockRecorder{}

	rep, err := newDeployer(p, rec).Deploy(context.Background(), parse(t, routed))
	require.NoError(t, err)

	assert.True(t, rep.Succeeded())
	assert.Equal(t, []string{"fc#role", "fc", "fc/hello", "grp", "route"}, rep.Order)
	assert.Equal(t, []string{
		"Role:fundeploy-role-fc",
		"Service:fc",
		"Function:fc/hello",
		"Group:grp",
		"Api:route",
	}, p.Keys())
	assert.Equal(t, []string{"fake:success"}, rec.deploys)
	assert.Empty(t, rec.stages)
}

func TestDeployer_Plan(t *testing.T) {
	p := fake.New()

	plan, err := newDeployer(p, &MockRecorder{}).Plan(context.Background(), parse(t, routed))
	require.NoError(t, err)

	assert.Equal(t, 5, plan.Len())
	assert.Empty(t, p.Calls())
}

func TestDeployer_Filter(t *testing.T) {
	p := fake.New()
	rec := &MockRecorder{}

	rep, err := newDeployer(p, rec, WithFilter(filter.New([]string{"fc"}, nil))).
		Deploy(context.Background(), parse(t, routed))
	require.NoError(t, err)

	assert.True(t, rep.Succeeded())
	assert.Equal(t, []string{"fc#role", "fc", "fc/hello"}, rep.Order)
	assert.Empty(t, p.CallsOf(types.KindApi))

	_, err = newDeployer(p, rec, WithFilter(filter.New([]string{"nope"}, nil))).
		Deploy(context.Background(), parse(t, routed))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageResolve, stageErr.Stage)
}

func TestDeployer_RejectsBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		stage Stage
		check func(t *testing.T, err error)
	}{
		{
			name: "schema violation",
			src: `
fc:
  Type: 'Fun::Serverless::Service'
  hello:
    Type: 'Fun::Serverless::Function'
    Properties:
      Runtime: nodejs8
      CodeUri: './'
`,
			stage: StageValidate,
			check: func(t *testing.T, err error) {
				var v *types.SchemaViolation
				assert.True(t, errors.As(err, &v))
			},
		},
		{
			name: "dangling api function",
			src: `
fc:
  Type: 'Fun::Serverless::Service'
  hello:
    Type: 'Fun::Serverless::Function'
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: './'
grp:
  Type: 'Fun::Serverless::Group'
route:
  Type: 'Fun::Serverless::Api'
  Properties:
    GroupName: grp
    Method: get
    RequestPath: /missing
    ServiceName: fc
    FunctionName: missing
`,
			stage: StageResolve,
			check: func(t *testing.T, err error) {
				var dep *types.DependencyError
				require.True(t, errors.As(err, &dep))
				assert.Equal(t, "route", dep.ResourceID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fake.New()
			rec := &MockRecorder{}

			rep, err := newDeployer(p, rec).Deploy(context.Background(), parse(t, tt.src))
			require.Error(t, err)
			assert.Nil(t, rep)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.stage, stageErr.Stage)
			tt.check(t, err)

			assert.Empty(t, p.Calls())
			assert.Equal(t, []string{string(tt.stage)}, rec.stages)
			assert.Equal(t, []string{"fake:rejected"}, rec.deploys)
		})
	}
}

func TestDeployer_PolicyDenial(t *testing.T) {
	ctx := context.Background()
	engine := policy.NewEngine()
	require.NoError(t, engine.LoadPolicy(ctx, "timeouts.rego", `package fundeploy

import rego.v1

deny contains {"msg": "functions must set Timeout", "resource": r.id} if {
	some r in input.resources
	r.kind == "Function"
	not r.spec.timeout
}
`))

	p := fake.New()
	rec := &MockRecorder{}
	_, err := newDeployer(p, rec, WithPolicies(engine)).Deploy(ctx, parse(t, routed))

	var perr *types.PolicyError
	require.True(t, errors.As(err, &perr))
	require.Len(t, perr.Denials, 1)
	assert.Contains(t, perr.Denials[0], "fc/hello")
	assert.Empty(t, p.Calls())
	assert.Equal(t, []string{"policy"}, rec.stages)
}

func TestDeployer_ResourceFailureIsInReport(t *testing.T) {
	p := fake.New()
	p.Fail(types.KindGroup, "grp", types.Permanentf("CreateApiGroup", "quota exceeded"))
	rec := &MockRecorder{}

	rep, err := newDeployer(p, rec).Deploy(context.Background(), parse(t, routed))
	require.NoError(t, err)

	assert.False(t, rep.Succeeded())
	assert.Equal(t, report.StatusFailed, rep.Resources["grp"].Status)
	assert.Equal(t, report.StatusSkipped, rep.Resources["route"].Status)
	assert.Equal(t, report.StatusRealized, rep.Resources["fc/hello"].Status)
	assert.Equal(t, []string{"fake:failed"}, rec.deploys)
}

func TestDeployer_Cancelled(t *testing.T) {
	p := fake.New()
	ctx, cancel := context.WithCancel(context.Background())
	p.OnCall(func(_ context.Context, c fake.Call) error {
		if c.Kind == types.KindService {
			cancel()
		}
		return nil
	})
	rec := &MockRecorder{}

	rep, err := newDeployer(p, rec).Deploy(ctx, parse(t, routed))
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.ErrorIs(t, err, context.Canceled)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageReconcile, stageErr.Stage)
	assert.Equal(t, report.StatusCancelled, rep.Resources["route"].Status)
	assert.Equal(t, []string{"fake:cancelled"}, rec.deploys)
}

func TestDeployer_LocalBackendIdempotent(t *testing.T) {
	backend, err := local.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	d := NewDeployer(backend, WithLogger(telemetry.NewConsoleLogger("test", io.Discard)))
	first, err := d.Deploy(context.Background(), parse(t, routed))
	require.NoError(t, err)
	second, err := d.Deploy(context.Background(), parse(t, routed))
	require.NoError(t, err)

	require.True(t, first.Succeeded())
	for _, id := range first.Order {
		assert.Equal(t, first.Resources[id].Handle, second.Resources[id].Handle, id)
	}
}
