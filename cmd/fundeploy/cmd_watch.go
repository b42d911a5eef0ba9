package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/internal/daemon"
	"github.com/yairfalse/fundeploy/report"
	"github.com/yairfalse/fundeploy/template"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		interval time.Duration
		listen   string
	)
	cmd := &cobra.Command{
		Use:   "watch <template>",
		Short: "Redeploy a template on an interval",
		Long: `Watch deploys the template, then deploys it again every interval so the
backend converges back to the template when it drifts. The template file is
re-read each cycle.

Health and metrics are served on --listen:
  /healthz   liveness and the outcome of the last cycle
  /readyz    200 once a cycle has fully succeeded
  /metrics   Prometheus metrics`,
		Example: `  fundeploy watch template.yml --interval 10m
  fundeploy watch template.yml --backend aws --listen :9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("interval") {
				a.cfg.Daemon.Interval = interval
			}
			if cmd.Flags().Changed("listen") {
				a.cfg.Daemon.Listen = listen
			}

			s, err := a.openSession(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(context.WithoutCancel(ctx)) }()

			path := args[0]
			deploy := func(ctx context.Context) (*report.Report, error) {
				doc, err := template.Load(path)
				if err != nil {
					return nil, err
				}
				return s.deployer.Deploy(ctx, doc)
			}

			d, err := daemon.NewDaemon(daemon.Config{
				Interval:       a.cfg.Daemon.Interval,
				Listen:         a.cfg.Daemon.Listen,
				Backend:        s.backend.Name(),
				Template:       path,
				MetricsHandler: s.telemetry.MetricsHandler(),
			}, deploy)
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}
			return d.Start(ctx)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Time between deployments")
	cmd.Flags().StringVar(&listen, "listen", ":9464", "Address of the health and metrics server (empty disables it)")
	return cmd
}
