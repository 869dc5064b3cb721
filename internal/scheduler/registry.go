package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/logfields"
	"github.com/Raiccio/demographics-backend/internal/metrics"
	"github.com/Raiccio/demographics-backend/internal/store"
)

// RunRecorder persists job run audit rows. The registry tolerates a nil
// recorder and a failing one; auditing never blocks job control.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, run store.JobRun) error
}

// Registry owns the job state machine on top of a gocron scheduler.
//
// gocron has no per-job pause, so the registry detaches the cron entry on
// pause and re-creates it on resume. The running flag lives here as well:
// a job executes at most once at a time, whether the run came from the
// interval or from a manual trigger.
type Registry struct {
	mu      sync.Mutex
	sched   gocron.Scheduler
	jobs    map[string]*managedJob
	order   []string
	workers *WorkerGroup
	rec     metrics.Recorder
	audit   RunRecorder
	runCtx  context.Context
	started bool
}

// New builds a registry with an embedded gocron scheduler. rec and audit
// may be nil.
func New(rec metrics.Recorder, audit RunRecorder) (*Registry, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryInternal, "creating scheduler").Build()
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Registry{
		sched:   sched,
		jobs:    make(map[string]*managedJob),
		workers: &WorkerGroup{},
		rec:     rec,
		audit:   audit,
		runCtx:  context.Background(),
	}, nil
}

// Register adds a job in the scheduled state. The interval fires only
// after Start.
func (r *Registry) Register(id, name string, interval time.Duration, action Action) error {
	if id == "" || action == nil {
		return derrors.JobError("job id and action are required").Build()
	}
	if interval <= 0 {
		return derrors.JobError(fmt.Sprintf("job %s: interval must be positive", id)).Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; exists {
		return derrors.JobError(fmt.Sprintf("job %s already registered", id)).Build()
	}

	j := &managedJob{
		id:       id,
		name:     name,
		interval: interval,
		action:   action,
		state:    StateScheduled,
	}
	if err := r.attachLocked(j); err != nil {
		return err
	}

	r.jobs[id] = j
	r.order = append(r.order, id)
	slog.Info("job registered", logfields.JobID(id), slog.Duration("interval", interval))
	return nil
}

// Start begins interval scheduling. Runs started by the scheduler use ctx
// as their base context.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.runCtx = ctx
	r.sched.Start()
	r.started = true
	slog.Info("scheduler started", slog.Int("jobs", len(r.jobs)))
}

// Shutdown stops interval scheduling and waits for in-flight manual runs.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.started = false
	err := r.sched.Shutdown()
	r.mu.Unlock()

	if werr := r.workers.StopAndWait(ctx); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "shutting down scheduler").Build()
	}
	return nil
}

// Pause detaches the job from the scheduler. Pausing a paused job is a
// no-op; pausing a running or removed job is rejected.
func (r *Registry) Pause(id string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	switch j.state {
	case StateRunning:
		return nil, derrors.JobError(fmt.Sprintf("job %s is running; cannot pause", id)).Build()
	case StatePaused:
		st := r.statusLocked(j)
		return &st, nil
	}

	if err := r.detachLocked(j); err != nil {
		return nil, err
	}
	j.state = StatePaused
	slog.Info("job paused", logfields.JobID(id))
	st := r.statusLocked(j)
	return &st, nil
}

// Resume re-attaches a paused job. Resuming a scheduled job is a no-op;
// resuming a running or removed job is rejected.
func (r *Registry) Resume(id string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	switch j.state {
	case StateRunning:
		return nil, derrors.JobError(fmt.Sprintf("job %s is running; cannot resume", id)).Build()
	case StateScheduled:
		st := r.statusLocked(j)
		return &st, nil
	}

	if err := r.attachLocked(j); err != nil {
		return nil, err
	}
	j.state = StateScheduled
	slog.Info("job resumed", logfields.JobID(id))
	st := r.statusLocked(j)
	return &st, nil
}

// Remove detaches the job permanently. Removing an already removed job is
// a no-op; removing a running job is rejected.
func (r *Registry) Remove(id string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	switch j.state {
	case StateRunning:
		return nil, derrors.JobError(fmt.Sprintf("job %s is running; cannot remove", id)).Build()
	case StateRemoved:
		st := r.statusLocked(j)
		return &st, nil
	}

	if j.cron != nil {
		if err := r.detachLocked(j); err != nil {
			return nil, err
		}
	}
	j.state = StateRemoved
	slog.Info("job removed", logfields.JobID(id))
	st := r.statusLocked(j)
	return &st, nil
}

// Trigger runs the job immediately in a worker goroutine. Triggering a
// paused job resumes it first, so after the run completes the job is back
// on its interval. A trigger while the job is running is rejected.
func (r *Registry) Trigger(id string) (*TriggerResult, error) {
	r.mu.Lock()

	j, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	switch j.state {
	case StateRemoved:
		r.mu.Unlock()
		return nil, derrors.JobError(fmt.Sprintf("job %s has been removed", id)).Build()
	case StateRunning:
		r.mu.Unlock()
		return nil, derrors.JobError(fmt.Sprintf("job %s is already running; trigger rejected", id)).Build()
	}

	autoResumed := false
	if j.state == StatePaused {
		if err := r.attachLocked(j); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		autoResumed = true
	}

	runID := uuid.NewString()
	j.state = StateRunning
	j.restore = StateScheduled
	ctx := r.runCtx
	r.mu.Unlock()

	started := r.workers.Go(func() {
		r.run(ctx, j, runID, time.Now().UTC())
	})
	if !started {
		r.mu.Lock()
		j.state = j.restore
		r.mu.Unlock()
		return nil, derrors.JobError(fmt.Sprintf("job %s: registry is shutting down", id)).Build()
	}

	slog.Info("job triggered", logfields.JobID(id), logfields.RunID(runID),
		slog.Bool("auto_resumed", autoResumed))
	return &TriggerResult{JobID: id, RunID: runID, AutoResumed: autoResumed}, nil
}

// RunSync executes the job's action on the caller's goroutine and returns
// its run record. The job's prior state is restored afterwards, so running
// a paused job synchronously does not resume it.
func (r *Registry) RunSync(ctx context.Context, id string) (*RunRecord, error) {
	r.mu.Lock()

	j, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	switch j.state {
	case StateRemoved:
		r.mu.Unlock()
		return nil, derrors.JobError(fmt.Sprintf("job %s has been removed", id)).Build()
	case StateRunning:
		r.mu.Unlock()
		return nil, derrors.JobError(fmt.Sprintf("job %s is already running", id)).Build()
	}

	runID := uuid.NewString()
	j.restore = j.state
	j.state = StateRunning
	r.mu.Unlock()

	rec, runErr := r.run(ctx, j, runID, time.Now().UTC())
	return rec, runErr
}

// UpdateInterval changes the job's interval. A scheduled job is rebuilt on
// the underlying scheduler; paused jobs pick the interval up on resume.
func (r *Registry) UpdateInterval(id string, interval time.Duration) error {
	if interval <= 0 {
		return derrors.JobError(fmt.Sprintf("job %s: interval must be positive", id)).Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.lookupLocked(id)
	if err != nil {
		return err
	}
	if j.state == StateRemoved {
		return derrors.JobError(fmt.Sprintf("job %s has been removed", id)).Build()
	}

	j.interval = interval
	if j.cron != nil {
		updated, uerr := r.sched.Update(j.cron.ID(),
			gocron.DurationJob(interval),
			gocron.NewTask(r.runScheduled, j.id),
			gocron.WithName(j.name),
		)
		if uerr != nil {
			return derrors.WrapError(uerr, derrors.CategoryJob,
				fmt.Sprintf("updating interval for job %s", id)).Build()
		}
		j.cron = updated
	}
	slog.Info("job interval updated", logfields.JobID(id), slog.Duration("interval", interval))
	return nil
}

// Status reports all jobs in registration order.
func (r *Registry) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.statusLocked(r.jobs[id]))
	}
	return out
}

// Detail reports a single job.
func (r *Registry) Detail(id string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	st := r.statusLocked(j)
	return &st, nil
}

// run executes the action with panic recovery and records the outcome.
// The caller must have already moved the job into StateRunning and set
// its restore state.
func (r *Registry) run(ctx context.Context, j *managedJob, runID string, startedAt time.Time) (*RunRecord, error) {
	summary, err := safeRun(ctx, j.action)

	rec := RunRecord{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Outcome:    metrics.OutcomeSuccess,
		Message:    summary,
	}
	if err != nil {
		rec.Outcome = metrics.OutcomeFailed
		rec.Message = err.Error()
	}

	r.mu.Lock()
	if j.state == StateRunning {
		j.state = j.restore
	}
	j.lastRun = &rec
	r.mu.Unlock()

	r.rec.IncJobRun(j.id, rec.Outcome)
	if r.audit != nil {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if aerr := r.audit.RecordJobRun(auditCtx, store.JobRun{
			RunID:      rec.RunID,
			JobID:      j.id,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
			Outcome:    rec.Outcome,
			Message:    rec.Message,
		}); aerr != nil {
			slog.Warn("recording job run failed", logfields.JobID(j.id), logfields.Error(aerr))
		}
		cancel()
	}

	if err != nil {
		slog.Error("job run failed", logfields.JobID(j.id), logfields.RunID(runID),
			logfields.DurationMS(float64(rec.FinishedAt.Sub(rec.StartedAt).Milliseconds())), logfields.Error(err))
		return &rec, err
	}
	slog.Info("job run completed", logfields.JobID(j.id), logfields.RunID(runID),
		logfields.DurationMS(float64(rec.FinishedAt.Sub(rec.StartedAt).Milliseconds())))
	return &rec, nil
}

// runScheduled is the entry point gocron invokes on each interval tick.
func (r *Registry) runScheduled(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok || j.state != StateScheduled {
		// The tick raced a pause or remove; skip it.
		r.mu.Unlock()
		return
	}
	runID := uuid.NewString()
	j.restore = StateScheduled
	j.state = StateRunning
	ctx := r.runCtx
	r.mu.Unlock()

	r.run(ctx, j, runID, time.Now().UTC()) //nolint:errcheck // outcome is logged and audited
}

func (r *Registry) lookupLocked(id string) (*managedJob, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, derrors.NotFoundError(fmt.Sprintf("job %s not found", id)).Build()
	}
	return j, nil
}

// attachLocked creates the gocron entry for the job.
func (r *Registry) attachLocked(j *managedJob) error {
	cron, err := r.sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(r.runScheduled, j.id),
		gocron.WithName(j.name),
	)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryJob,
			fmt.Sprintf("scheduling job %s", j.id)).Build()
	}
	j.cron = cron
	return nil
}

// detachLocked removes the gocron entry for the job.
func (r *Registry) detachLocked(j *managedJob) error {
	if j.cron == nil {
		return nil
	}
	if err := r.sched.RemoveJob(j.cron.ID()); err != nil {
		return derrors.WrapError(err, derrors.CategoryJob,
			fmt.Sprintf("detaching job %s", j.id)).Build()
	}
	j.cron = nil
	return nil
}

func (r *Registry) statusLocked(j *managedJob) JobStatus {
	st := JobStatus{
		ID:              j.id,
		Name:            j.name,
		State:           j.state,
		IntervalSeconds: int(j.interval.Seconds()),
	}
	if j.state == StateScheduled && j.cron != nil {
		if next, err := j.cron.NextRun(); err == nil && !next.IsZero() {
			st.NextRun = &next
		}
	}
	if j.lastRun != nil {
		cp := *j.lastRun
		st.LastRun = &cp
	}
	return st
}

func safeRun(ctx context.Context, action Action) (summary string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = derrors.InternalError(fmt.Sprintf("job panicked: %v", p)).Build()
		}
	}()
	return action(ctx)
}
