package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// State is the lifecycle state of a managed job.
type State string

const (
	StateScheduled State = "scheduled"
	StatePaused    State = "paused"
	StateRunning   State = "running"
	StateRemoved   State = "removed"
)

// Action is the work a job performs. The returned summary is recorded on
// the run record when the action succeeds.
type Action func(ctx context.Context) (summary string, err error)

// RunRecord captures the outcome of a single job execution.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
}

// JobStatus is the externally visible view of a managed job.
type JobStatus struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	State           State      `json:"state"`
	IntervalSeconds int        `json:"interval_seconds"`
	NextRun         *time.Time `json:"next_run,omitempty"`
	LastRun         *RunRecord `json:"last_run,omitempty"`
}

// TriggerResult describes the outcome of an asynchronous manual trigger.
type TriggerResult struct {
	JobID       string `json:"job_id"`
	RunID       string `json:"run_id"`
	AutoResumed bool   `json:"auto_resumed"`
}

// managedJob holds the registry's bookkeeping for one job. The cron handle
// is non-nil only while the job is attached to the underlying scheduler.
type managedJob struct {
	id       string
	name     string
	interval time.Duration
	action   Action

	state   State
	cron    gocron.Job
	lastRun *RunRecord

	// restore is the state the job returns to after the current run.
	restore State
}
