package model

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the pipeline error taxonomy. Every stage failure is
// terminal for its request; callers match with errors.Is.
var (
	ErrNoMatchingProfile       = errors.New("no matching environment profile")
	ErrVerificationFailed      = errors.New("verification failed")
	ErrBuildFailed             = errors.New("image build failed")
	ErrPushFailed              = errors.New("image push failed")
	ErrGovernanceBlocked       = errors.New("governance gate blocked")
	ErrApprovalTimedOut        = errors.New("approval wait timed out")
	ErrCancelled               = errors.New("request cancelled")
	ErrDeploymentFailed        = errors.New("deployment failed")
	ErrValidationFailed        = errors.New("post-deployment validation failed")
	ErrNoPriorVersionAvailable = errors.New("no prior succeeded version available")
	ErrEnvironmentBusy         = errors.New("environment has an in-flight operation")
)

// StageError wraps a sentinel with the originating stage name and the
// underlying tool diagnostics, so terminal failures always name their stage.
type StageError struct {
	Stage string
	Err   error
	Diag  string
}

func (e *StageError) Error() string {
	if e.Diag == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s: %v: %s", e.Stage, e.Err, e.Diag)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a StageError for the given stage.
func NewStageError(stage string, err error, diag string) *StageError {
	return &StageError{Stage: stage, Err: err, Diag: diag}
}

// StageOf returns the failing stage name, or "" when err carries none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
