// Package daemon redeploys a template on an interval so the backend
// converges back to the template when it drifts.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/fundeploy/report"
	"github.com/yairfalse/fundeploy/telemetry"
)

// DeployFunc runs one deployment
type DeployFunc func(ctx context.Context) (*report.Report, error)

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	// Listen is the address of the health and metrics server. Empty disables it.
	Listen   string
	Backend  string
	Template string
	// MetricsHandler serves /metrics. Nil answers 404.
	MetricsHandler http.Handler
}

// Daemon manages continuous reconciliation
type Daemon struct {
	interval       time.Duration
	listen         string
	backend        string
	template       string
	deploy         DeployFunc
	metricsHandler http.Handler
	metrics        *DaemonMetrics
	logger         *telemetry.Logger

	startTime      time.Time
	reconcileCount atomic.Int64
	ready          atomic.Bool

	mu       sync.Mutex
	lastRun  time.Time
	lastStat string
	lastErr  string
	addr     net.Addr
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, deploy DeployFunc) (*Daemon, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", config.Interval)
	}
	if deploy == nil {
		return nil, fmt.Errorf("deploy function is required")
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}

	return &Daemon{
		interval:       config.Interval,
		listen:         config.Listen,
		backend:        config.Backend,
		template:       config.Template,
		deploy:         deploy,
		metricsHandler: config.MetricsHandler,
		metrics:        metrics,
		logger:         telemetry.NewLogger("daemon"),
		startTime:      time.Now(),
	}, nil
}

// Start deploys once, then again every interval, until ctx is done.
// The health server runs alongside when Listen is set.
func (d *Daemon) Start(ctx context.Context) error {
	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			d.loop(ctx)
			return nil
		}, func(error) {
			cancel()
		})
	}

	if d.listen != "" {
		ln, err := net.Listen("tcp", d.listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", d.listen, err)
		}
		d.mu.Lock()
		d.addr = ln.Addr()
		d.mu.Unlock()

		server := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("health server listening")
			if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	d.logger.Info().
		Dur("interval", d.interval).
		Str("template", d.template).
		Str("backend", d.backend).
		Msg("daemon started")

	err := g.Run()
	d.logger.Info().Int64("cycles", d.reconcileCount.Load()).Msg("daemon stopped")
	return err
}

func (d *Daemon) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runReconciliation(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runReconciliation(ctx)
		}
	}
}

func (d *Daemon) runReconciliation(ctx context.Context) {
	d.reconcileCount.Add(1)
	start := time.Now()

	rep, err := d.deploy(ctx)

	status := "success"
	switch {
	case ctx.Err() != nil:
		status = "cancelled"
	case err != nil:
		status = "rejected"
	case !rep.Succeeded():
		status = "failed"
	}

	// Metrics for an interrupted run are still recorded.
	mctx := context.WithoutCancel(ctx)
	d.metrics.RecordReconciliation(mctx, status, d.backend, d.template)
	d.metrics.RecordReconciliationDuration(mctx, time.Since(start).Seconds(), status)
	if rep != nil {
		for _, s := range []report.Status{report.StatusRealized, report.StatusFailed, report.StatusSkipped, report.StatusCancelled} {
			d.metrics.RecordResources(mctx, int64(rep.Count(s)), string(s), d.backend)
		}
	}

	d.mu.Lock()
	d.lastRun = start
	d.lastStat = status
	d.lastErr = ""
	switch {
	case err != nil:
		d.lastErr = err.Error()
	case rep != nil && rep.Err() != nil:
		d.lastErr = rep.Err().Error()
	}
	d.mu.Unlock()

	if status == "success" {
		d.ready.Store(true)
	}

	event := d.logger.WithContext(ctx).Info()
	if status != "success" {
		event = d.logger.WithContext(ctx).Warn().Err(err)
	}
	event.Str("status", status).
		Dur("duration", time.Since(start)).
		Int64("cycle", d.reconcileCount.Load()).
		Msg("reconciliation cycle complete")
}

// Handler serves /healthz, /readyz and /metrics
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Health())
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !d.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, d.Health())
			return
		}
		writeJSON(w, http.StatusOK, d.Health())
	})
	if d.metricsHandler != nil {
		mux.Handle("/metrics", d.metricsHandler)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := "healthy"
	if d.lastStat != "" && d.lastStat != "success" {
		status = "degraded"
	}
	h := HealthStatus{
		Status:     status,
		Uptime:     int64(time.Since(d.startTime).Seconds()),
		Cycles:     d.reconcileCount.Load(),
		LastStatus: d.lastStat,
		LastError:  d.lastErr,
	}
	if !d.lastRun.IsZero() {
		h.LastRun = d.lastRun.UTC().Format(time.RFC3339)
	}
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status     string `json:"status"`
	Uptime     int64  `json:"uptime_seconds"`
	Cycles     int64  `json:"cycles"`
	LastRun    string `json:"last_run,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Ready reports whether a deployment has succeeded since start
func (d *Daemon) Ready() bool {
	return d.ready.Load()
}

// ReconciliationCount returns total reconciliations run
func (d *Daemon) ReconciliationCount() int64 {
	return d.reconcileCount.Load()
}

// Addr returns the health server address once Start is listening
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}
