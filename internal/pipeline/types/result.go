package types

import (
	"time"

	"github.com/google/uuid"

	"netshell/internal/vars"
)

// ErrorKind classifies why a target or a run failed.
type ErrorKind string

const (
	ErrNone       ErrorKind = ""
	ErrConfig     ErrorKind = "config"
	ErrConnection ErrorKind = "connection"
	ErrExecution  ErrorKind = "execution"
	ErrTimeout    ErrorKind = "timeout"
	ErrTemplate   ErrorKind = "template"
	ErrExtraction ErrorKind = "extraction"
	ErrCancelled  ErrorKind = "cancelled"
)

// ExecutionResult is the outcome of running one script on one target.
type ExecutionResult struct {
	Success      bool      `json:"success" yaml:"success"`
	Script       string    `json:"script,omitempty" yaml:"script,omitempty"`
	Stdout       string    `json:"stdout" yaml:"stdout"`
	Stderr       string    `json:"stderr" yaml:"stderr"`
	ExitCode     int       `json:"exit_code" yaml:"exit_code"`
	ElapsedMs    int64     `json:"execution_time_ms" yaml:"execution_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Failed builds a result for a target that never produced an exit status.
func Failed(kind ErrorKind, msg string, elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		Success:      false,
		ExitCode:     -1,
		ElapsedMs:    elapsed.Milliseconds(),
		ErrorMessage: msg,
		ErrorKind:    kind,
	}
}

// StepResult pairs a step and target with the execution outcome.
type StepResult struct {
	StepName        string          `json:"step_name" yaml:"step_name"`
	Target          string          `json:"server_name" yaml:"server_name"`
	ExecutionResult ExecutionResult `json:"execution_result" yaml:"execution_result"`
}

func (r StepResult) Success() bool { return r.ExecutionResult.Success }

// PipelineResult is the outcome of one pipeline run. StepResults holds every
// executed step's results in order; steps after the first failure are absent.
type PipelineResult struct {
	PipelineName   string       `json:"pipeline_name" yaml:"pipeline_name"`
	RunID          uuid.UUID    `json:"run_id" yaml:"run_id"`
	OverallSuccess bool         `json:"overall_success" yaml:"overall_success"`
	TotalMs        int64        `json:"total_execution_time_ms" yaml:"total_execution_time_ms"`
	StepResults    []StepResult `json:"step_results" yaml:"step_results"`
	StartedAt      time.Time    `json:"started_at" yaml:"started_at"`
	ErrorMessage   string       `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// EventKind is the type of an OutputEvent.
type EventKind string

const (
	EventStdout        EventKind = "stdout"
	EventStderr        EventKind = "stderr"
	EventLog           EventKind = "log"
	EventStepStarted   EventKind = "step_started"
	EventStepCompleted EventKind = "step_completed"
)

// IsLifecycle reports whether k marks a step boundary.
func (k EventKind) IsLifecycle() bool {
	return k == EventStepStarted || k == EventStepCompleted
}

// OutputEvent is emitted in real time while pipelines run.
type OutputEvent struct {
	PipelineName string        `json:"pipeline_name"`
	RunID        uuid.UUID     `json:"run_id"`
	Step         Step          `json:"step"`
	Target       string        `json:"server_name"`
	Kind         EventKind     `json:"output_type"`
	Content      string        `json:"content"`
	Timestamp    time.Time     `json:"timestamp"`
	Variables    vars.Snapshot `json:"variables"`
}
