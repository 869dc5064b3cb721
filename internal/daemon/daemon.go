// Package daemon wires configuration, storage, the fetch/process pipeline,
// the job registry, and the HTTP listeners into one long-running service.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Raiccio/demographics-backend/internal/arcgis"
	"github.com/Raiccio/demographics-backend/internal/config"
	"github.com/Raiccio/demographics-backend/internal/logfields"
	"github.com/Raiccio/demographics-backend/internal/metrics"
	"github.com/Raiccio/demographics-backend/internal/pipeline"
	"github.com/Raiccio/demographics-backend/internal/scheduler"
	"github.com/Raiccio/demographics-backend/internal/server/httpserver"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
	"github.com/Raiccio/demographics-backend/internal/store"
)

// Registered job identifiers.
const (
	JobFetch   = "fetch"
	JobProcess = "process"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon is the main service instance.
type Daemon struct {
	mu             sync.RWMutex
	config         *config.Config
	configFilePath string
	status         atomic.Value // Status
	startTime      time.Time

	// Core components
	db            *store.Store
	snaps         *snapshot.Store
	fetcher       *arcgis.Fetcher
	processor     *pipeline.Processor
	registry      *scheduler.Registry
	httpServer    *httpserver.Server
	configWatcher *ConfigWatcher
	rec           metrics.Recorder
}

// New builds a fully wired daemon from configuration. configFilePath may be
// empty, which disables config file watching.
func New(cfg *config.Config, configFilePath string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	d := &Daemon{
		config:         cfg,
		configFilePath: configFilePath,
	}
	d.status.Store(StatusStopped)

	var promHandler http.Handler
	if cfg.Monitoring.IsMetricsEnabled() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.rec = metrics.NewPrometheusRecorder(reg)
		promHandler = metrics.HTTPHandler(reg)
	} else {
		d.rec = metrics.NoopRecorder{}
	}

	db, err := store.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	d.db = db

	snaps, err := snapshot.NewStore(cfg.Data.Dir, cfg.Data.ArchiveDir, cfg.Data.ErrorDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing snapshot directories: %w", err)
	}
	d.snaps = snaps

	client := arcgis.NewClient(
		cfg.Source.URL,
		time.Duration(cfg.Source.TimeoutSeconds)*time.Second,
		cfg.Source.PageSize,
		cfg.Source.MaxRecords,
		cfg.Retry.Policy(),
	)
	d.fetcher = arcgis.NewFetcher(client, snaps, d.rec)
	d.processor = pipeline.NewProcessor(snaps, db, d.rec)

	registry, err := scheduler.New(d.rec, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.registry = registry

	if err := registry.Register(JobFetch, "Fetch demographic snapshot",
		cfg.Scheduler.FetchInterval(), d.fetchAction); err != nil {
		db.Close()
		return nil, err
	}
	if err := registry.Register(JobProcess, "Process pending snapshot",
		cfg.Scheduler.ProcessInterval(), d.processAction); err != nil {
		db.Close()
		return nil, err
	}

	d.httpServer = httpserver.New(d.GetConfig, d, db, httpserver.Options{
		PrometheusHandler: promHandler,
	})

	return d, nil
}

// Start brings the daemon up: HTTP listeners, interval scheduling, and the
// optional config watcher.
func (d *Daemon) Start(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.mu.Lock()
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusStopped)
		return err
	}

	if d.config.Scheduler.IsEnabled() {
		d.registry.Start(ctx)
	} else {
		slog.Info("interval scheduling disabled; jobs run on manual trigger only")
	}
	d.refreshGauges(ctx)

	if d.configFilePath != "" {
		watcher, err := NewConfigWatcher(d.configFilePath, d)
		if err != nil {
			slog.Warn("config watcher unavailable", logfields.Error(err))
		} else {
			d.configWatcher = watcher
			if err := watcher.Start(ctx); err != nil {
				slog.Warn("config watcher failed to start", logfields.Error(err))
				d.configWatcher = nil
			}
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("daemon started")
	return nil
}

// Stop shuts everything down in reverse order of startup.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)

	var errs []error
	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.httpServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.db.Close(); err != nil {
		errs = append(errs, err)
	}

	d.status.Store(StatusStopped)
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	slog.Info("daemon stopped")
	return nil
}

// GetStatus returns the daemon lifecycle state.
func (d *Daemon) GetStatus() Status {
	return d.status.Load().(Status)
}

// GetConfig returns the current configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetStartTime reports when Start was called.
func (d *Daemon) GetStartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// GetActiveJobs counts jobs currently mid-run.
func (d *Daemon) GetActiveJobs() int {
	n := 0
	for _, j := range d.registry.Status() {
		if j.State == scheduler.StateRunning {
			n++
		}
	}
	return n
}

// StatesTracked reports how many states have aggregate rows.
func (d *Daemon) StatesTracked(ctx context.Context) int {
	rows, err := d.db.GetAll(ctx)
	if err != nil {
		return 0
	}
	return len(rows)
}

// Ready reports nil once the database answers queries.
func (d *Daemon) Ready(ctx context.Context) error {
	_, err := d.db.GetAll(ctx)
	return err
}

// RunJob executes a registered job synchronously for the manual pipeline
// endpoints. The at-most-one-execution guard is enforced by the registry.
func (d *Daemon) RunJob(ctx context.Context, jobID string) (*scheduler.RunRecord, error) {
	return d.registry.RunSync(ctx, jobID)
}

// Job control passthroughs for the HTTP layer.

func (d *Daemon) Status() []scheduler.JobStatus { return d.registry.Status() }

func (d *Daemon) Detail(id string) (*scheduler.JobStatus, error) { return d.registry.Detail(id) }

func (d *Daemon) Pause(id string) (*scheduler.JobStatus, error) { return d.registry.Pause(id) }

func (d *Daemon) Resume(id string) (*scheduler.JobStatus, error) { return d.registry.Resume(id) }

func (d *Daemon) Remove(id string) (*scheduler.JobStatus, error) { return d.registry.Remove(id) }

func (d *Daemon) Trigger(id string) (*scheduler.TriggerResult, error) {
	return d.registry.Trigger(id)
}

// RecentRuns reads the audit trail for one job, newest first.
func (d *Daemon) RecentRuns(ctx context.Context, id string, limit int) ([]store.JobRun, error) {
	return d.db.RecentJobRuns(ctx, id, limit)
}

// ReloadConfig applies a changed configuration. Only job intervals are
// applied live; listener and storage changes require a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	d.mu.Lock()
	old := d.config
	d.config = newCfg
	d.mu.Unlock()

	if old.Scheduler.FetchInterval() != newCfg.Scheduler.FetchInterval() {
		if err := d.registry.UpdateInterval(JobFetch, newCfg.Scheduler.FetchInterval()); err != nil {
			return err
		}
	}
	if old.Scheduler.ProcessInterval() != newCfg.Scheduler.ProcessInterval() {
		if err := d.registry.UpdateInterval(JobProcess, newCfg.Scheduler.ProcessInterval()); err != nil {
			return err
		}
	}

	if old.HTTP != newCfg.HTTP || old.Storage != newCfg.Storage || old.Data != newCfg.Data {
		slog.Warn("listener, storage, and data directory changes take effect on restart")
	}
	return nil
}

// fetchAction is the fetch job body: query upstream, write one snapshot.
func (d *Daemon) fetchAction(ctx context.Context) (string, error) {
	res, err := d.fetcher.Fetch(ctx)
	if err != nil {
		return "", err
	}
	d.refreshGauges(ctx)
	return fmt.Sprintf("fetched %d county rows into %s", res.Rows, res.Snapshot), nil
}

// processAction is the process job body: load the oldest pending snapshot
// into the aggregate table.
func (d *Daemon) processAction(ctx context.Context) (string, error) {
	res, err := d.processor.Process(ctx, "")
	if err != nil {
		return "", err
	}
	d.refreshGauges(ctx)
	return fmt.Sprintf("processed %d rows across %d states from %s",
		res.RowsProcessed, res.StatesUpdated, res.Snapshot), nil
}

// refreshGauges updates the pending-snapshots gauge after pipeline activity.
func (d *Daemon) refreshGauges(context.Context) {
	if pending, err := d.snaps.List(); err == nil {
		d.rec.SetSnapshotsPending(len(pending))
	}
}
