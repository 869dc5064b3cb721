package metrics

import "time"

// Outcome labels for job run counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Recorder defines observability hooks for the fetch/process pipeline.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveFetchDuration(d time.Duration, success bool)
	ObserveProcessDuration(d time.Duration, success bool)
	IncJobRun(jobID, outcome string)
	AddRowsProcessed(n int)
	SetStatesTracked(n int)
	SetSnapshotsPending(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveFetchDuration(time.Duration, bool)   {}
func (NoopRecorder) ObserveProcessDuration(time.Duration, bool) {}
func (NoopRecorder) IncJobRun(string, string)                   {}
func (NoopRecorder) AddRowsProcessed(int)                       {}
func (NoopRecorder) SetStatesTracked(int)                       {}
func (NoopRecorder) SetSnapshotsPending(int)                    {}
