// Package store implements the relational persistence layer: the current
// population aggregate per state plus a job-run audit trail.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
)

// StateAggregate is the current aggregate row for one state. At most one row
// exists per state name; a successful process cycle is the only mutator.
type StateAggregate struct {
	StateName  string    `json:"state"`
	Population int64     `json:"population"`
	UpdatedAt  time.Time `json:"last_updated"`
	SourceFile string    `json:"source_file"`
}

// JobRun is one audit record of a completed job execution.
type JobRun struct {
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message"`
}

// Store wraps the embedded SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and initializes) the database at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state_population (
		state_name TEXT PRIMARY KEY,
		population INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		source_file TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS job_runs (
		run_id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertStates writes all aggregates in one transaction: insert when absent,
// overwrite population/timestamp/source when present. Either every row
// commits or none do.
func (s *Store) UpsertStates(ctx context.Context, aggs []StateAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryStorage, "begin transaction").Retryable().Build()
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO state_population (state_name, population, updated_at, source_file)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(state_name) DO UPDATE SET
			population = excluded.population,
			updated_at = excluded.updated_at,
			source_file = excluded.source_file`)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryStorage, "prepare upsert").Retryable().Build()
	}
	defer stmt.Close()

	for _, agg := range aggs {
		if _, err := stmt.ExecContext(ctx, agg.StateName, agg.Population, agg.UpdatedAt.UTC().Format(time.RFC3339), agg.SourceFile); err != nil {
			return derrors.WrapError(err, derrors.CategoryStorage, "upsert state aggregate").
				Retryable().
				WithContext("state", agg.StateName).
				Build()
		}
	}

	if err := tx.Commit(); err != nil {
		return derrors.WrapError(err, derrors.CategoryStorage, "commit aggregates").Retryable().Build()
	}
	return nil
}

// GetAll returns every state aggregate ordered by state name.
func (s *Store) GetAll(ctx context.Context) ([]StateAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT state_name, population, updated_at, source_file FROM state_population ORDER BY state_name")
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "query aggregates").Retryable().Build()
	}
	defer rows.Close()

	return scanAggregates(rows)
}

// GetOne returns the aggregate for a single state, or a not-found error.
func (s *Store) GetOne(ctx context.Context, stateName string) (*StateAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT state_name, population, updated_at, source_file FROM state_population WHERE state_name = ?",
		stateName)

	agg, err := scanAggregate(row.Scan)
	if err == sql.ErrNoRows {
		return nil, derrors.NotFoundError(fmt.Sprintf("state %q not found", stateName)).
			WithContext("state", stateName).
			Build()
	}
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "query aggregate").Retryable().Build()
	}
	return agg, nil
}

// GetFiltered returns the aggregates for the named states, ordered by state
// name. Names with no aggregate are silently omitted from the result.
func (s *Store) GetFiltered(ctx context.Context, names []string) ([]StateAggregate, error) {
	if len(names) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT state_name, population, updated_at, source_file FROM state_population WHERE state_name IN ("+placeholders+") ORDER BY state_name",
		args...)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "query filtered aggregates").Retryable().Build()
	}
	defer rows.Close()

	return scanAggregates(rows)
}

// RecordJobRun appends one audit record.
func (s *Store) RecordJobRun(ctx context.Context, run JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_runs (run_id, job_id, started_at, finished_at, outcome, message) VALUES (?, ?, ?, ?, ?, ?)",
		run.RunID, run.JobID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Outcome, run.Message)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryStorage, "record job run").Retryable().Build()
	}
	return nil
}

// RecentJobRuns returns up to limit audit records for a job, newest first.
func (s *Store) RecentJobRuns(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, job_id, started_at, finished_at, outcome, message FROM job_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?",
		jobID, limit)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "query job runs").Retryable().Build()
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var run JobRun
		var started, finished string
		var message sql.NullString
		if err := rows.Scan(&run.RunID, &run.JobID, &started, &finished, &run.Outcome, &message); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, started)
		run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		run.Message = message.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanAggregates(rows *sql.Rows) ([]StateAggregate, error) {
	var aggs []StateAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		aggs = append(aggs, *agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}
	return aggs, nil
}

func scanAggregate(scan func(dest ...any) error) (*StateAggregate, error) {
	var agg StateAggregate
	var updated string
	if err := scan(&agg.StateName, &agg.Population, &updated, &agg.SourceFile); err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339, updated); err == nil {
		agg.UpdatedAt = ts
	}
	return &agg, nil
}
