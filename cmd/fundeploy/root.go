package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/internal/config"
	"github.com/yairfalse/fundeploy/telemetry"
)

var version = "0.1.0"

// app holds global flags and the resolved configuration
type app struct {
	configPath string
	debug      bool

	backend     string
	stateDir    string
	region      string
	endpoint    string
	parallelism int
	policyDir   string
	journalDir  string

	cfg    *config.Config
	logger *telemetry.Logger
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "fundeploy",
		Short: "Deploy serverless templates",
		Long: `fundeploy - serverless template deployment

fundeploy validates a serverless template, resolves the dependencies between
its services, functions, triggers, routes and tables, and creates or updates
each resource in dependency order. Failures only affect the resources that
depend on the failed one.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetVersionTemplate("fundeploy {{.Version}}\n")
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to a TOML config file")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&a.backend, "backend", "", "Backend to deploy to (local, aws)")
	flags.StringVar(&a.stateDir, "state-dir", "", "State directory of the local backend")
	flags.StringVar(&a.region, "region", "", "Cloud region")
	flags.StringVar(&a.endpoint, "endpoint", "", "Override the backend API endpoint")
	flags.IntVar(&a.parallelism, "parallelism", 0, "Concurrent backend calls (1 follows plan order)")
	flags.StringVar(&a.policyDir, "policy-dir", "", "Directory of Rego policies every template must pass")
	flags.StringVar(&a.journalDir, "journal-dir", "", "Directory of the deployment journal")

	cmd.AddCommand(
		newValidateCommand(a),
		newPlanCommand(a),
		newDeployCommand(a),
		newWatchCommand(a),
		newJournalCommand(a),
	)
	return cmd
}

// setup loads config, applies flag overrides and configures logging
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.Name = a.backend
	}
	if flags.Changed("state-dir") {
		cfg.Backend.StateDir = a.stateDir
	}
	if flags.Changed("region") {
		cfg.Backend.Region = a.region
	}
	if flags.Changed("endpoint") {
		cfg.Backend.Endpoint = a.endpoint
	}
	if flags.Changed("parallelism") {
		cfg.Reconcile.Parallelism = a.parallelism
	}
	if flags.Changed("policy-dir") {
		cfg.Policy.Dir = a.policyDir
	}
	if flags.Changed("journal-dir") {
		cfg.Journal.Dir = a.journalDir
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := telemetry.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	telemetry.SetOutput(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05"})

	a.cfg = cfg
	a.logger = telemetry.NewLogger("cli")
	return nil
}

// Execute runs the root command until it finishes or a signal arrives
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
