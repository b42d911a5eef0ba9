package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/internal/config"
	"github.com/yairfalse/fundeploy/internal/filter"
	itelemetry "github.com/yairfalse/fundeploy/internal/telemetry"
	"github.com/yairfalse/fundeploy/orchestrator"
	"github.com/yairfalse/fundeploy/policy"
	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/providers/aws"
	"github.com/yairfalse/fundeploy/providers/local"
	"github.com/yairfalse/fundeploy/reconciler"
	"github.com/yairfalse/fundeploy/types"
	"github.com/yairfalse/fundeploy/wal"
)

func init() {
	providers.Register(local.Name, local.Factory)
	providers.Register(aws.Name, aws.Factory)
}

// session is everything a deployment needs, opened from config
type session struct {
	deployer  *orchestrator.Deployer
	backend   providers.Primitives
	telemetry *itelemetry.Provider
	closers   []io.Closer
}

func (s *session) Close(ctx context.Context) error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// loadPolicies compiles the configured policy directory, or returns nil when none is set
func loadPolicies(ctx context.Context, cfg *config.Config) (*policy.Engine, error) {
	if cfg.Policy.Dir == "" {
		return nil, nil
	}
	engine := policy.NewEngine()
	if err := engine.LoadDir(ctx, cfg.Policy.Dir); err != nil {
		return nil, err
	}
	return engine, nil
}

func reconcilerOptions(cfg config.ReconcileConfig) reconciler.Options {
	return reconciler.Options{
		Parallelism:    cfg.Parallelism,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxElapsed:     cfg.MaxElapsed,
	}
}

// openSession opens telemetry, the backend, the journal and the policy engine
func (a *app) openSession(ctx context.Context, prometheus bool, extra ...orchestrator.Option) (*session, error) {
	cfg := a.cfg
	s := &session{}

	otelCfg := cfg.OTEL
	otelCfg.Metrics.Prometheus = otelCfg.Metrics.Prometheus || prometheus
	tp, err := itelemetry.NewProvider(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	s.telemetry = tp

	backend, err := providers.New(ctx, cfg.Backend.Name, providers.Config{
		Region:   cfg.Backend.Region,
		Endpoint: cfg.Backend.Endpoint,
		StateDir: cfg.Backend.StateDir,
	})
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	s.backend = backend
	if c, ok := backend.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	engineOpts := []reconciler.Option{
		reconciler.WithOptions(reconcilerOptions(cfg.Reconcile)),
		reconciler.WithLogger(a.logger),
	}
	if cfg.Journal.Dir != "" {
		walCfg := wal.DefaultConfig()
		walCfg.RetentionDays = cfg.Journal.RetentionDays
		journal, err := wal.OpenWithConfig(cfg.Journal.Dir, walCfg)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.closers = append(s.closers, journal)
		engineOpts = append(engineOpts, reconciler.WithJournal(journal))
	}

	policies, err := loadPolicies(ctx, cfg)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithRecorder(tp),
		orchestrator.WithReconcilerOptions(engineOpts...),
	}
	if policies != nil {
		opts = append(opts, orchestrator.WithPolicies(policies))
	}
	s.deployer = orchestrator.NewDeployer(backend, append(opts, extra...)...)
	return s, nil
}

// planner builds a deployer that never reaches a backend
func (a *app) planner(ctx context.Context, extra ...orchestrator.Option) (*orchestrator.Deployer, error) {
	policies, err := loadPolicies(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	opts := []orchestrator.Option{orchestrator.WithLogger(a.logger)}
	if policies != nil {
		opts = append(opts, orchestrator.WithPolicies(policies))
	}
	return orchestrator.NewDeployer(nil, append(opts, extra...)...), nil
}

// selection narrows a run to named resources and away from excluded kinds
type selection struct {
	excludeKinds []string
}

func (sel *selection) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&sel.excludeKinds, "exclude-kind", nil,
		"Leave resources of these kinds (and what depends on them) alone, e.g. Trigger,Api")
}

// option returns the deployer option for resources named on the command
// line, or nil when the whole template is selected
func (sel *selection) option(resources []string) (orchestrator.Option, error) {
	if len(resources) == 0 && len(sel.excludeKinds) == 0 {
		return nil, nil
	}
	kinds := make([]types.Kind, 0, len(sel.excludeKinds))
	for _, k := range sel.excludeKinds {
		kind, ok := kindByName(k)
		if !ok {
			return nil, fmt.Errorf("unknown resource kind %q", k)
		}
		kinds = append(kinds, kind)
	}
	return orchestrator.WithFilter(filter.New(resources, kinds)), nil
}

func kindByName(name string) (types.Kind, bool) {
	for _, k := range []types.Kind{
		types.KindRole, types.KindService, types.KindFunction, types.KindTrigger,
		types.KindGroup, types.KindApi, types.KindTable,
	} {
		if strings.EqualFold(string(k), name) {
			return k, true
		}
	}
	return "", false
}

func optionList(opt orchestrator.Option) []orchestrator.Option {
	if opt == nil {
		return nil
	}
	return []orchestrator.Option{opt}
}
