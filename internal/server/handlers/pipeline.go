package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/scheduler"
	"github.com/Raiccio/demographics-backend/internal/server/responses"
)

// PipelineRunner executes a registered job synchronously on behalf of a
// manual API call. The daemon backs this with the job registry, so manual
// runs share the at-most-one-execution guard with scheduled runs.
type PipelineRunner interface {
	RunJob(ctx context.Context, jobID string) (*scheduler.RunRecord, error)
}

// PipelineHandlers serves the manual fetch and process endpoints.
type PipelineHandlers struct {
	runner       PipelineRunner
	errorAdapter *derrors.HTTPErrorAdapter
}

// NewPipelineHandlers creates a pipeline handlers instance.
func NewPipelineHandlers(runner PipelineRunner) *PipelineHandlers {
	return &PipelineHandlers{
		runner:       runner,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleFetch handles POST /api/pipeline/fetch: downloads a fresh snapshot
// from the upstream feature service.
func (h *PipelineHandlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	h.runPipelineJob(w, r, "fetch")
}

// HandleProcess handles POST /api/pipeline/process: validates and loads the
// most recent pending snapshot into the database.
func (h *PipelineHandlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	h.runPipelineJob(w, r, "process")
}

func (h *PipelineHandlers) runPipelineJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "POST").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	run, err := h.runner.RunJob(r.Context(), jobID)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := &responses.PipelineRunResponse{
		Status:    "ok",
		JobID:     jobID,
		Run:       run,
		Timestamp: time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write pipeline response").Build())
	}
}
