package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Stage names a step of the deploy pipeline
type Stage string

const (
	StageValidate  Stage = "validate"
	StageNormalize Stage = "normalize"
	StagePolicy    Stage = "policy"
	StageResolve   Stage = "resolve"
	StageReconcile Stage = "reconcile"
)

// StageError reports which stage stopped a deployment
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Recorder receives deployment metrics
type Recorder interface {
	RecordDeploy(ctx context.Context, backend, status string, d time.Duration)
	RecordStageFailure(ctx context.Context, stage string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDeploy(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordStageFailure(context.Context, string)                  {}
