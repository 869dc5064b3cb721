// Package responses defines API response types used by the demographics HTTP handlers.
package responses

import (
	"time"

	"github.com/Raiccio/demographics-backend/internal/scheduler"
	"github.com/Raiccio/demographics-backend/internal/store"
)

// StatesResponse lists aggregated state population rows.
type StatesResponse struct {
	Status    string                 `json:"status"`
	Count     int                    `json:"count"`
	States    []store.StateAggregate `json:"states"`
	Timestamp time.Time              `json:"timestamp"`
}

// StateResponse returns a single state population row.
type StateResponse struct {
	Status    string               `json:"status"`
	State     store.StateAggregate `json:"state"`
	Timestamp time.Time            `json:"timestamp"`
}

// PipelineRunResponse reports the outcome of a manually invoked fetch or
// process cycle.
type PipelineRunResponse struct {
	Status    string               `json:"status"`
	JobID     string               `json:"job_id"`
	Run       *scheduler.RunRecord `json:"run,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// SchedulerStatusResponse summarizes all managed jobs.
type SchedulerStatusResponse struct {
	Status    string                `json:"status"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
	Counts    map[string]int        `json:"counts"`
	Timestamp time.Time             `json:"timestamp"`
}

// JobResponse reports the state of a single managed job after a read or a
// control operation.
type JobResponse struct {
	Status    string              `json:"status"`
	Job       scheduler.JobStatus `json:"job"`
	Timestamp time.Time           `json:"timestamp"`
}

// JobRunsResponse lists recent audit records for one job.
type JobRunsResponse struct {
	Status    string         `json:"status"`
	JobID     string         `json:"job_id"`
	Runs      []store.JobRun `json:"runs"`
	Timestamp time.Time      `json:"timestamp"`
}

// JobTriggerResponse reports an accepted asynchronous trigger.
type JobTriggerResponse struct {
	Status      string    `json:"status"`
	JobID       string    `json:"job_id"`
	RunID       string    `json:"run_id"`
	AutoResumed bool      `json:"auto_resumed"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	Uptime        float64   `json:"uptime"`
	StatesTracked int       `json:"states_tracked"`
	ActiveJobs    int       `json:"active_jobs"`
}

// ConfigResponse represents a sanitized view of the running configuration.
type ConfigResponse struct {
	Status    string        `json:"status"`
	Config    ConfigSummary `json:"config"`
	Timestamp time.Time     `json:"timestamp"`
}

// ConfigSummary is the sanitized configuration body.
type ConfigSummary struct {
	Source    SourceSummary    `json:"source"`
	Scheduler SchedulerSummary `json:"scheduler"`
	Data      DataSummary      `json:"data"`
	HTTP      HTTPSummary      `json:"http"`
}

// SourceSummary describes the upstream feature service settings.
type SourceSummary struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	PageSize       int    `json:"page_size"`
}

// SchedulerSummary describes the interval scheduling settings.
type SchedulerSummary struct {
	Enabled                bool `json:"enabled"`
	FetchIntervalSeconds   int  `json:"fetch_interval_seconds"`
	ProcessIntervalSeconds int  `json:"process_interval_seconds"`
}

// DataSummary describes the on-disk snapshot layout.
type DataSummary struct {
	Dir        string `json:"dir"`
	ArchiveDir string `json:"archive_dir"`
	ErrorDir   string `json:"error_dir"`
}

// HTTPSummary describes the listening ports.
type HTTPSummary struct {
	APIPort   int `json:"api_port"`
	AdminPort int `json:"admin_port"`
}
