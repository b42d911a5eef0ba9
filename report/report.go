// Package report accumulates per-resource outcomes of a reconciliation run.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/yairfalse/fundeploy/resolver"
	"github.com/yairfalse/fundeploy/types"
)

// Status is the final state of one planned resource
type Status string

const (
	StatusRealized  Status = "realized"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Result is what the reconciler records for one step
type Result struct {
	ID       string
	Status   Status
	Handle   types.Handle
	Err      error
	Attempts int
	Duration time.Duration
	// Cause names the failed dependency of a skipped step.
	Cause string
}

// Entry is one resource in the final report
type Entry struct {
	ID       string        `json:"id"`
	Kind     types.Kind    `json:"kind"`
	Name     string        `json:"name"`
	Unit     string        `json:"unit"`
	Status   Status        `json:"status"`
	Handle   *types.Handle `json:"handle,omitempty"`
	Error    string        `json:"error,omitempty"`
	Cause    string        `json:"cause,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Failure is a step whose primitive call failed
type Failure struct {
	ID        string     `json:"id"`
	Kind      types.Kind `json:"kind"`
	Error     string     `json:"error"`
	Transient bool       `json:"transient"`

	err error
}

// Unwrap returns the original error
func (f Failure) Unwrap() error { return f.err }

// Report is the outcome of one run. Every planned resource appears once.
type Report struct {
	Resources map[string]Entry `json:"resources"`
	// Order lists resource IDs in plan order.
	Order    []string  `json:"order"`
	Failures []Failure `json:"failures,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Aggregator is the single place step outcomes are written to. The reconciler
// reads dependency handles back from it.
type Aggregator struct {
	mu      sync.Mutex
	results map[string]Result
	started time.Time
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		results: make(map[string]Result),
		started: time.Now(),
	}
}

// Record stores the outcome of a step. The first outcome for an ID wins.
func (a *Aggregator) Record(r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.results[r.ID]; exists {
		return
	}
	a.results[r.ID] = r
}

// Handle returns the handle of a realized resource
func (a *Aggregator) Handle(id string) (types.Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.results[id]
	if !ok || r.Status != StatusRealized {
		return types.Handle{}, false
	}
	return r.Handle, true
}

// Status returns the recorded status of a step
func (a *Aggregator) Status(id string) (Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.results[id]
	return r.Status, ok
}

// Finalize builds the report. Steps without an outcome are reported as cancelled.
func (a *Aggregator) Finalize(plan *resolver.Plan) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := &Report{
		Resources: make(map[string]Entry, plan.Len()),
		Order:     make([]string, 0, plan.Len()),
		Started:   a.started,
		Finished:  time.Now(),
	}

	for _, step := range plan.Steps {
		id := step.ID()
		r, ok := a.results[id]
		if !ok {
			r = Result{ID: id, Status: StatusCancelled}
		}

		entry := Entry{
			ID:       id,
			Kind:     step.Resource.Kind,
			Name:     step.Resource.Name,
			Unit:     step.Unit,
			Status:   r.Status,
			Cause:    r.Cause,
			Attempts: r.Attempts,
			Duration: r.Duration,
		}
		if r.Status == StatusRealized {
			h := r.Handle
			entry.Handle = &h
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		if r.Status == StatusFailed {
			rep.Failures = append(rep.Failures, Failure{
				ID:        id,
				Kind:      step.Resource.Kind,
				Error:     entry.Error,
				Transient: types.IsTransient(r.Err),
				err:       r.Err,
			})
		}

		rep.Resources[id] = entry
		rep.Order = append(rep.Order, id)
	}
	return rep
}

// Succeeded reports whether every resource was realized
func (r *Report) Succeeded() bool {
	for _, e := range r.Resources {
		if e.Status != StatusRealized {
			return false
		}
	}
	return true
}

// Count returns how many resources ended in status s
func (r *Report) Count(s Status) int {
	n := 0
	for _, e := range r.Resources {
		if e.Status == s {
			n++
		}
	}
	return n
}

// Err joins the failures, or returns nil when nothing failed
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		err := f.err
		if err == nil {
			err = errors.New(f.Error)
		}
		errs = append(errs, fmt.Errorf("%s: %w", f.ID, err))
	}
	return errors.Join(errs...)
}

// Entries returns entries in plan order
func (r *Report) Entries() []Entry {
	out := make([]Entry, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Resources[id])
	}
	return out
}

// Render writes a human-readable table
func (r *Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RESOURCE\tKIND\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(tw, "--------\t----\t------\t------")

	for _, e := range r.Entries() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Kind, e.Status, detail(e))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s in %s\n", r.summary(), r.Finished.Sub(r.Started).Round(time.Millisecond))
	return err
}

func (r *Report) summary() string {
	var parts []string
	for _, s := range []Status{StatusRealized, StatusFailed, StatusSkipped, StatusCancelled} {
		if n := r.Count(s); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}

func detail(e Entry) string {
	switch e.Status {
	case StatusRealized:
		if e.Handle.ARN != "" {
			return e.Handle.ARN
		}
		return e.Handle.ID
	case StatusFailed:
		return truncate(e.Error, 80)
	case StatusSkipped:
		return "dependency " + e.Cause + " did not succeed"
	default:
		return ""
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// JSON returns the indented JSON form of the report
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
