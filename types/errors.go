package types

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaViolation is a structural problem in the template the author must fix.
type SchemaViolation struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Got      string `json:"got,omitempty"`
	Line     int    `json:"line,omitempty"`
}

func (v *SchemaViolation) Error() string {
	msg := fmt.Sprintf("%s: expected %s", v.Path, v.Expected)
	if v.Got != "" {
		msg += ", got " + v.Got
	}
	if v.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", v.Line)
	}
	return msg
}

// ViolationList collects every schema violation found in one pass
type ViolationList struct {
	Violations []*SchemaViolation `json:"violations"`
}

func (l *ViolationList) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "template has %d schema violation(s)", len(l.Violations))
	for _, v := range l.Violations {
		b.WriteString("\n  - ")
		b.WriteString(v.Error())
	}
	return b.String()
}

func (l *ViolationList) Unwrap() []error {
	errs := make([]error, len(l.Violations))
	for i, v := range l.Violations {
		errs[i] = v
	}
	return errs
}

// NormalizationError means a validated value still could not be parsed.
type NormalizationError struct {
	Path string
	Err  error
}

func (e *NormalizationError) Error() string { return fmt.Sprintf("normalize %s: %v", e.Path, e.Err) }
func (e *NormalizationError) Unwrap() error { return e.Err }

// PolicyError lists the deny messages produced by template policies.
type PolicyError struct {
	Denials []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("template denied by policy: %s", strings.Join(e.Denials, "; "))
}

// DependencyError is a dangling reference or a cycle in the resource graph.
// It is never retried.
type DependencyError struct {
	ResourceID string
	Reference  string
	Reason     string
}

func (e *DependencyError) Error() string {
	if e.Reference == "" {
		return fmt.Sprintf("dependency error at %s: %s", e.ResourceID, e.Reason)
	}
	return fmt.Sprintf("dependency error at %s: %s %q", e.ResourceID, e.Reason, e.Reference)
}

// TransientError is a network or throttling failure of a remote call. The reconciler retries it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s (transient): %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a remote rejection (bad value, permission denied).
// It aborts the dependents of the failed resource only.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError
func Transient(op string, err error) error { return &TransientError{Op: op, Err: err} }

// Permanent wraps err as a PermanentError
func Permanent(op string, err error) error { return &PermanentError{Op: op, Err: err} }

// Permanentf builds a PermanentError from a format string
func Permanentf(op, format string, a ...any) error {
	return Permanent(op, fmt.Errorf(format, a...))
}

// IsTransient reports whether err (or any error in its chain) is transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err (or any error in its chain) is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
