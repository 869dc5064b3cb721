package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Raiccio/demographics-backend/internal/config"
	"github.com/Raiccio/demographics-backend/internal/scheduler"
	"github.com/Raiccio/demographics-backend/internal/store"
)

type stubRuntime struct {
	readyErr error
}

func (s *stubRuntime) GetStartTime() time.Time          { return time.Now().Add(-time.Hour) }
func (s *stubRuntime) GetActiveJobs() int               { return 0 }
func (s *stubRuntime) StatesTracked(context.Context) int { return 2 }
func (s *stubRuntime) Ready(context.Context) error      { return s.readyErr }

func (s *stubRuntime) RunJob(_ context.Context, jobID string) (*scheduler.RunRecord, error) {
	return &scheduler.RunRecord{RunID: "run-1", Outcome: "success"}, nil
}

func (s *stubRuntime) Status() []scheduler.JobStatus {
	return []scheduler.JobStatus{{ID: "fetch", State: scheduler.StateScheduled}}
}

func (s *stubRuntime) Detail(id string) (*scheduler.JobStatus, error) {
	return &scheduler.JobStatus{ID: id, State: scheduler.StateScheduled}, nil
}

func (s *stubRuntime) Pause(id string) (*scheduler.JobStatus, error) {
	return &scheduler.JobStatus{ID: id, State: scheduler.StatePaused}, nil
}

func (s *stubRuntime) Resume(id string) (*scheduler.JobStatus, error) {
	return &scheduler.JobStatus{ID: id, State: scheduler.StateScheduled}, nil
}

func (s *stubRuntime) Remove(id string) (*scheduler.JobStatus, error) {
	return &scheduler.JobStatus{ID: id, State: scheduler.StateRemoved}, nil
}

func (s *stubRuntime) Trigger(id string) (*scheduler.TriggerResult, error) {
	return &scheduler.TriggerResult{JobID: id, RunID: "run-1"}, nil
}

func (s *stubRuntime) RecentRuns(context.Context, string, int) ([]store.JobRun, error) {
	return nil, nil
}

type stubDB struct{}

func (stubDB) GetAll(context.Context) ([]store.StateAggregate, error) { return nil, nil }
func (stubDB) GetOne(_ context.Context, name string) (*store.StateAggregate, error) {
	return &store.StateAggregate{StateName: name}, nil
}
func (stubDB) GetFiltered(context.Context, []string) ([]store.StateAggregate, error) {
	return nil, nil
}

func newTestServer(rt *stubRuntime) *Server {
	cfg := config.Default()
	return New(func() *config.Config { return cfg }, rt, stubDB{}, Options{
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})
}

func TestAPIMuxRoutes(t *testing.T) {
	s := newTestServer(&stubRuntime{})
	mux := s.apiMux()

	routes := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/states", http.StatusOK},
		{http.MethodGet, "/api/states/California", http.StatusOK},
		{http.MethodPost, "/api/pipeline/fetch", http.StatusOK},
		{http.MethodPost, "/api/pipeline/process", http.StatusOK},
		{http.MethodGet, "/api/scheduler/status", http.StatusOK},
		{http.MethodGet, "/api/scheduler/jobs/fetch", http.StatusOK},
		{http.MethodGet, "/api/scheduler/jobs/fetch/runs", http.StatusOK},
		{http.MethodPost, "/api/scheduler/jobs/fetch/pause", http.StatusOK},
		{http.MethodPost, "/api/scheduler/jobs/fetch/trigger", http.StatusAccepted},
		{http.MethodGet, "/api/config", http.StatusOK},
	}
	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, rt.status, rec.Code, "%s %s: %s", rt.method, rt.path, rec.Body.String())
	}
}

func TestAdminMuxRoutes(t *testing.T) {
	s := newTestServer(&stubRuntime{})
	mux := s.adminMux(config.Default())

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadinessFailure(t *testing.T) {
	s := newTestServer(&stubRuntime{readyErr: context.DeadlineExceeded})
	mux := s.adminMux(config.Default())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
