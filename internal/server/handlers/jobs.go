package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/scheduler"
	"github.com/Raiccio/demographics-backend/internal/server/responses"
	"github.com/Raiccio/demographics-backend/internal/store"
)

// JobController defines the registry operations exposed over the API.
type JobController interface {
	Status() []scheduler.JobStatus
	Detail(id string) (*scheduler.JobStatus, error)
	Pause(id string) (*scheduler.JobStatus, error)
	Resume(id string) (*scheduler.JobStatus, error)
	Remove(id string) (*scheduler.JobStatus, error)
	Trigger(id string) (*scheduler.TriggerResult, error)
	RecentRuns(ctx context.Context, id string, limit int) ([]store.JobRun, error)
}

// JobsHandlers serves scheduler status and per-job control endpoints.
type JobsHandlers struct {
	registry     JobController
	errorAdapter *derrors.HTTPErrorAdapter
}

// NewJobsHandlers creates a jobs handler instance.
func NewJobsHandlers(registry JobController) *JobsHandlers {
	return &JobsHandlers{
		registry:     registry,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleSchedulerStatus handles GET /api/scheduler/status.
func (h *JobsHandlers) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	jobs := h.registry.Status()
	counts := make(map[string]int, 4)
	for _, j := range jobs {
		counts[string(j.State)]++
	}

	resp := &responses.SchedulerStatusResponse{
		Status:    "ok",
		Jobs:      jobs,
		Counts:    counts,
		Timestamp: time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write scheduler status").Build())
	}
}

// HandleJob routes requests under /api/scheduler/jobs/ by path suffix:
//
//	GET    /api/scheduler/jobs/{id}          job detail
//	DELETE /api/scheduler/jobs/{id}          remove (idempotent)
//	GET    /api/scheduler/jobs/{id}/runs     recent run history
//	POST   /api/scheduler/jobs/{id}/pause    pause
//	POST   /api/scheduler/jobs/{id}/resume   resume
//	POST   /api/scheduler/jobs/{id}/trigger  run now, resuming a paused job
func (h *JobsHandlers) HandleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/")
	id, op, _ := strings.Cut(rest, "/")
	if id == "" {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.ValidationError("job id is required").Build())
		return
	}

	switch op {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.writeJobStatus(w, r, h.registry.Detail)(id)
		case http.MethodDelete:
			h.writeJobStatus(w, r, h.registry.Remove)(id)
		default:
			h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("invalid HTTP method").
				WithContext("method", r.Method).
				WithContext("allowed_methods", "GET, DELETE").
				Build())
		}
	case "runs":
		if r.Method != http.MethodGet {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("invalid HTTP method").
				WithContext("method", r.Method).
				WithContext("allowed_method", "GET").
				Build())
			return
		}
		h.handleRuns(w, r, id)
	case "pause", "resume", "trigger":
		if r.Method != http.MethodPost {
			h.errorAdapter.WriteErrorResponse(w, r, derrors.ValidationError("invalid HTTP method").
				WithContext("method", r.Method).
				WithContext("allowed_method", "POST").
				Build())
			return
		}
		switch op {
		case "pause":
			h.writeJobStatus(w, r, h.registry.Pause)(id)
		case "resume":
			h.writeJobStatus(w, r, h.registry.Resume)(id)
		case "trigger":
			h.handleTrigger(w, r, id)
		}
	default:
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.NotFoundError("unknown job operation").WithContext("operation", op).Build())
	}
}

const defaultRunHistoryLimit = 20

func (h *JobsHandlers) handleRuns(w http.ResponseWriter, r *http.Request, id string) {
	// The job must exist even if it has never run.
	if _, err := h.registry.Detail(id); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	limit := defaultRunHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.errorAdapter.WriteErrorResponse(w, r,
				derrors.ValidationError("limit must be a positive integer").
					WithContext("limit", raw).Build())
			return
		}
		limit = n
	}

	runs, err := h.registry.RecentRuns(r.Context(), id, limit)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.JobRun{}
	}

	resp := &responses.JobRunsResponse{
		Status:    "ok",
		JobID:     id,
		Runs:      runs,
		Timestamp: time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write job runs response").Build())
	}
}

func (h *JobsHandlers) handleTrigger(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.registry.Trigger(id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := &responses.JobTriggerResponse{
		Status:      "accepted",
		JobID:       res.JobID,
		RunID:       res.RunID,
		AutoResumed: res.AutoResumed,
		Timestamp:   time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusAccepted, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write trigger response").Build())
	}
}

// writeJobStatus wraps a registry operation that yields a job status into a
// response writer closure.
func (h *JobsHandlers) writeJobStatus(w http.ResponseWriter, r *http.Request, op func(string) (*scheduler.JobStatus, error)) func(string) {
	return func(id string) {
		st, err := op(id)
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, err)
			return
		}
		resp := &responses.JobResponse{
			Status:    "ok",
			Job:       *st,
			Timestamp: time.Now().UTC(),
		}
		if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
			h.errorAdapter.WriteErrorResponse(w, r,
				derrors.WrapError(werr, derrors.CategoryInternal, "failed to write job response").Build())
		}
	}
}
