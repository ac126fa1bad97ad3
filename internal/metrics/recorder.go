package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFatal   ResultLabel = "fatal"
)

// Build outcome labels.
const (
	OutcomeSucceeded = "succeeded" // container exited 0
	OutcomeFailed    = "failed"    // container exited non-zero
	OutcomeError     = "error"     // the pipeline stopped before the container finished
)

// Recorder defines observability hooks for pipeline stages and build
// outcomes.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(method, outcome string)
	SetContainerExitCode(code int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncBuildOutcome(string, string)             {}
func (NoopRecorder) SetContainerExitCode(int)                   {}
