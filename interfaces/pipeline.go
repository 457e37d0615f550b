package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// ErrProvisioningTimeout is reported when the poll budget is exhausted without
// the provider ever reporting the process as compiled. The remote process is
// not known to be broken, only unconfirmed.
var ErrProvisioningTimeout = errors.New("provisioning timed out waiting for compilation")

// StepName identifies one step of the pipeline.
type StepName string

const (
	StepCreate    StepName = "create"
	StepUpload    StepName = "upload"
	StepConfigure StepName = "configure"
	StepStart     StepName = "start"
	StepPoll      StepName = "poll"
	StepRegister  StepName = "register"
)

// PipelineSteps lists every step in execution order.
var PipelineSteps = []StepName{StepCreate, StepUpload, StepConfigure, StepStart, StepPoll, StepRegister}

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepOutcome records how a single step ended.
type StepOutcome struct {
	Step      StepName      `json:"step"`
	Status    StepStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// ErrorKind distinguishes fatal step failures from poll timeouts.
type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindFatal   ErrorKind = "fatal"
	ErrorKindTimeout ErrorKind = "timeout"
)

// PipelineResult aggregates everything one pipeline run produced, so a
// consumer can tell exactly how far the run got even when it failed.
type PipelineResult struct {
	RunID        string              `json:"run_id"`
	Name         string              `json:"name,omitempty"`
	Process      *ProvisionedProcess `json:"process,omitempty"`
	Registration *RegistrationRecord `json:"registration,omitempty"`
	Steps        []StepOutcome       `json:"steps"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    ErrorKind           `json:"error_kind,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Succeeded reports whether every attempted step completed without a fatal error or timeout.
func (r *PipelineResult) Succeeded() bool {
	return r.Error == "" && r.ErrorKind == ErrorKindNone
}

// Step returns the outcome recorded for the given step, if any.
func (r *PipelineResult) Step(name StepName) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepOutcome{}, false
}

// FailedStep returns the name of the step that ended the run, or "" on success.
func (r *PipelineResult) FailedStep() StepName {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return s.Step
		}
	}
	return ""
}

// Err rebuilds a typed error from the serialized result. It returns nil on success.
func (r *PipelineResult) Err() error {
	if r.Succeeded() {
		return nil
	}
	return &PipelineError{Kind: r.ErrorKind, Step: r.FailedStep(), Message: r.Error}
}

// PipelineError is the error form of a failed PipelineResult.
type PipelineError struct {
	Kind    ErrorKind
	Step    StepName
	Message string
}

func (e *PipelineError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("pipeline failed: %s", e.Message)
	}
	return fmt.Sprintf("pipeline failed at %s: %s", e.Step, e.Message)
}

// Is matches ErrProvisioningTimeout for timed out runs.
func (e *PipelineError) Is(target error) bool {
	return target == ErrProvisioningTimeout && e.Kind == ErrorKindTimeout
}
