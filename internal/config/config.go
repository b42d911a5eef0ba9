// Package config handles TOML configuration for fundeploy.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Backend   BackendConfig   `toml:"backend"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Journal   JournalConfig   `toml:"journal"`
	Policy    PolicyConfig    `toml:"policy"`
	OTEL      OTELConfig      `toml:"otel"`
	Log       LogConfig       `toml:"log"`
	Daemon    DaemonConfig    `toml:"daemon"`
}

// BackendConfig selects and configures the control-plane backend.
type BackendConfig struct {
	Name     string `toml:"name"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	StateDir string `toml:"state_dir"`
}

// ReconcileConfig holds scheduling and retry settings.
type ReconcileConfig struct {
	Parallelism       int    `toml:"parallelism"`
	MaxRetries        uint   `toml:"max_retries"`
	InitialBackoffStr string `toml:"initial_backoff"`
	MaxBackoffStr     string `toml:"max_backoff"`
	MaxElapsedStr     string `toml:"max_elapsed"`

	InitialBackoff time.Duration `toml:"-"`
	MaxBackoff     time.Duration `toml:"-"`
	MaxElapsed     time.Duration `toml:"-"`
}

// JournalConfig holds deployment journal settings. An empty Dir disables the journal.
type JournalConfig struct {
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// PolicyConfig points at a directory of Rego policies.
type PolicyConfig struct {
	Dir string `toml:"dir"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	// Prometheus exposes metrics for scraping in daemon mode.
	Prometheus bool `toml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// DaemonConfig holds watch mode settings.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
	Listen      string        `toml:"listen"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, toml.MetaData{})
	// Defaults always parse.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg, md)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills unset fields. Keys where zero is meaningful keep an
// explicit zero from the file.
func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.Backend.Name == "" {
		cfg.Backend.Name = "local"
	}
	if cfg.Backend.StateDir == "" {
		cfg.Backend.StateDir = ".fundeploy"
	}
	if cfg.Reconcile.Parallelism == 0 {
		cfg.Reconcile.Parallelism = 4
	}
	if !md.IsDefined("reconcile", "max_retries") {
		cfg.Reconcile.MaxRetries = 3
	}
	if cfg.Reconcile.InitialBackoffStr == "" {
		cfg.Reconcile.InitialBackoffStr = "500ms"
	}
	if cfg.Reconcile.MaxBackoffStr == "" {
		cfg.Reconcile.MaxBackoffStr = "10s"
	}
	if cfg.Reconcile.MaxElapsedStr == "" {
		cfg.Reconcile.MaxElapsedStr = "2m"
	}
	if !md.IsDefined("journal", "retention_days") {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "fundeploy"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "5m"
	}
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = ":9464"
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"reconcile.initial_backoff", cfg.Reconcile.InitialBackoffStr, &cfg.Reconcile.InitialBackoff},
		{"reconcile.max_backoff", cfg.Reconcile.MaxBackoffStr, &cfg.Reconcile.MaxBackoff},
		{"reconcile.max_elapsed", cfg.Reconcile.MaxElapsedStr, &cfg.Reconcile.MaxElapsed},
		{"daemon.interval", cfg.Daemon.IntervalStr, &cfg.Daemon.Interval},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Name {
	case "local":
		if c.Backend.StateDir == "" {
			return fmt.Errorf("backend: state_dir required for the local backend")
		}
	case "aws":
	default:
		return fmt.Errorf("backend: unknown backend %q (want local or aws)", c.Backend.Name)
	}
	if c.Reconcile.Parallelism < 1 {
		return fmt.Errorf("reconcile: parallelism must be at least 1 (got %d)", c.Reconcile.Parallelism)
	}
	if c.Reconcile.MaxBackoff < c.Reconcile.InitialBackoff {
		return fmt.Errorf("reconcile: max_backoff %s is below initial_backoff %s", c.Reconcile.MaxBackoff, c.Reconcile.InitialBackoff)
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal: retention_days must not be negative")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive")
	}
	return nil
}
