// Package httpserver wires the API and admin HTTP listeners.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Raiccio/demographics-backend/internal/config"
	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/server/handlers"
	smw "github.com/Raiccio/demographics-backend/internal/server/middleware"
)

// Runtime is the daemon surface the HTTP layer depends on.
type Runtime interface {
	handlers.DaemonInterface
	handlers.PipelineRunner
	handlers.JobController
}

// Options carries optional wiring for the server.
type Options struct {
	// PrometheusHandler, when set, is mounted on the admin listener at the
	// configured metrics path.
	PrometheusHandler http.Handler
}

// Server manages the API and admin HTTP endpoints.
type Server struct {
	apiServer    *http.Server
	adminServer  *http.Server
	cfgFn        func() *config.Config
	opts         Options
	errorAdapter *derrors.HTTPErrorAdapter

	// Handler modules
	statesHandlers     *handlers.StatesHandlers
	pipelineHandlers   *handlers.PipelineHandlers
	jobsHandlers       *handlers.JobsHandlers
	monitoringHandlers *handlers.MonitoringHandlers
	configHandlers     *handlers.ConfigHandlers

	// middleware chain
	mchain func(http.Handler) http.Handler
}

// New constructs a new HTTP server wiring instance. cfgFn is a getter so
// sanitized config views reflect live reloads.
func New(cfgFn func() *config.Config, runtime Runtime, db handlers.StateStore, opts Options) *Server {
	s := &Server{
		cfgFn:        cfgFn,
		opts:         opts,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}

	s.statesHandlers = handlers.NewStatesHandlers(db)
	s.pipelineHandlers = handlers.NewPipelineHandlers(runtime)
	s.jobsHandlers = handlers.NewJobsHandlers(runtime)
	s.monitoringHandlers = handlers.NewMonitoringHandlers(runtime)
	s.configHandlers = handlers.NewConfigHandlers(cfgFn)

	s.mchain = smw.Chain(slog.Default(), s.errorAdapter)

	return s
}

// Start binds and serves both listeners. Ports are pre-bound so startup
// fails fast with one aggregate error instead of partially coming up.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgFn()

	type preBind struct {
		name string
		port int
		ln   net.Listener
	}
	binds := []preBind{
		{name: "api", port: cfg.HTTP.APIPort},
		{name: "admin", port: cfg.HTTP.AdminPort},
	}
	var bindErrs []error
	lc := net.ListenConfig{}
	for i := range binds {
		addr := fmt.Sprintf(":%d", binds[i].port)
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("%s port %d: %w", binds[i].name, binds[i].port, err))
			continue
		}
		binds[i].ln = ln
	}
	if len(bindErrs) > 0 {
		for _, b := range binds {
			if b.ln != nil {
				_ = b.ln.Close()
			}
		}
		return fmt.Errorf("http startup failed: %w", errors.Join(bindErrs...))
	}

	if err := s.startAPIServerWithListener(binds[0].ln); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}
	if err := s.startAdminServerWithListener(cfg, binds[1].ln); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}

	slog.Info("HTTP servers started",
		slog.Int("api_port", cfg.HTTP.APIPort),
		slog.Int("admin_port", cfg.HTTP.AdminPort))
	return nil
}

// Stop gracefully shuts down both listeners.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	slog.Info("HTTP servers stopped")
	return nil
}

func (s *Server) startAPIServerWithListener(ln net.Listener) error {
	s.apiServer = &http.Server{
		Handler:      s.mchain(s.apiMux()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.startServerWithListener("api", s.apiServer, ln)
}

// apiMux builds the public API routing table.
func (s *Server) apiMux() *http.ServeMux {
	mux := http.NewServeMux()

	// State population reads
	mux.HandleFunc("/api/states", s.statesHandlers.HandleStates)
	mux.HandleFunc("/api/states/", s.statesHandlers.HandleState)

	// Manual pipeline runs
	mux.HandleFunc("/api/pipeline/fetch", s.pipelineHandlers.HandleFetch)
	mux.HandleFunc("/api/pipeline/process", s.pipelineHandlers.HandleProcess)

	// Job control
	mux.HandleFunc("/api/scheduler/status", s.jobsHandlers.HandleSchedulerStatus)
	mux.HandleFunc("/api/scheduler/jobs/", s.jobsHandlers.HandleJob)

	// Sanitized configuration view
	mux.HandleFunc("/api/config", s.configHandlers.HandleConfig)

	return mux
}

func (s *Server) startAdminServerWithListener(cfg *config.Config, ln net.Listener) error {
	s.adminServer = &http.Server{
		Handler:      s.mchain(s.adminMux(cfg)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.startServerWithListener("admin", s.adminServer, ln)
}

// adminMux builds the operational routing table.
func (s *Server) adminMux(cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", s.monitoringHandlers.HandleHealthCheck)
	mux.HandleFunc("/healthz", s.monitoringHandlers.HandleHealthCheck) // Kubernetes-style alias
	// Readiness endpoint: only ready once the database answers queries
	mux.HandleFunc("/ready", s.monitoringHandlers.HandleReadiness)
	mux.HandleFunc("/readyz", s.monitoringHandlers.HandleReadiness) // Kubernetes-style alias

	// Metrics endpoint
	if cfg.Monitoring.IsMetricsEnabled() && s.opts.PrometheusHandler != nil {
		mux.Handle(cfg.Monitoring.MetricsPath, s.opts.PrometheusHandler)
	}

	return mux
}

// startServerWithListener launches an http.Server on a pre-bound listener or binds itself.
func (s *Server) startServerWithListener(kind string, srv *http.Server, ln net.Listener) error {
	go func() {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s server error", kind), "error", err)
		}
	}()
	return nil
}
