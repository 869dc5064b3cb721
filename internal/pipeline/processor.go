// Package pipeline turns raw snapshots into state aggregates: validate every
// county row, sum by state, upsert all groups in one transaction, then
// archive the snapshot. A snapshot that fails validation is quarantined and
// changes nothing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/logfields"
	"github.com/Raiccio/demographics-backend/internal/metrics"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
	"github.com/Raiccio/demographics-backend/internal/store"
)

// Result summarizes one successful process cycle.
type Result struct {
	Snapshot      string `json:"snapshot"`
	RowsProcessed int    `json:"rows_processed"`
	StatesUpdated int    `json:"states_updated"`
}

// Aggregator is the subset of the relational store the processor writes to.
type Aggregator interface {
	UpsertStates(ctx context.Context, aggs []store.StateAggregate) error
}

// Processor consumes snapshots and maintains the state aggregate table.
type Processor struct {
	snaps *snapshot.Store
	db    Aggregator
	rec   metrics.Recorder
	now   func() time.Time
}

// NewProcessor wires a processor. A nil recorder disables metrics.
func NewProcessor(snaps *snapshot.Store, db Aggregator, rec metrics.Recorder) *Processor {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Processor{snaps: snaps, db: db, rec: rec, now: time.Now}
}

// Process handles one snapshot. An empty ref selects the most recent
// unprocessed snapshot. On success the snapshot moves to the archive; on a
// validation failure it moves to the error directory and zero aggregate rows
// change; on a storage failure it stays in place so a re-trigger can retry.
func (p *Processor) Process(ctx context.Context, ref string) (*Result, error) {
	start := time.Now()

	if ref == "" {
		latest, err := p.snaps.Latest()
		if err == snapshot.ErrNoSnapshots {
			p.rec.ObserveProcessDuration(time.Since(start), false)
			return nil, derrors.NotFoundError("no unprocessed snapshots").Build()
		}
		if err != nil {
			p.rec.ObserveProcessDuration(time.Since(start), false)
			return nil, derrors.WrapError(err, derrors.CategoryInternal, "locate latest snapshot").Build()
		}
		ref = latest
	}

	snap, err := p.snaps.Read(ref)
	if err != nil {
		// Unreadable contents count as a validation failure: quarantine.
		return nil, p.reject(ref, start, derrors.WrapError(err, derrors.CategoryValidation, "snapshot unreadable").
			UserAction().
			WithContext("snapshot", ref).
			Build())
	}

	if err := validate(snap); err != nil {
		return nil, p.reject(ref, start, err.WithContext("snapshot", ref))
	}

	aggs := aggregate(snap, ref, p.now().UTC())
	if err := p.db.UpsertStates(ctx, aggs); err != nil {
		// Snapshot stays unprocessed; a manual re-trigger retries it.
		p.rec.ObserveProcessDuration(time.Since(start), false)
		return nil, err
	}

	if err := p.snaps.Archive(ref); err != nil {
		p.rec.ObserveProcessDuration(time.Since(start), false)
		return nil, derrors.WrapError(err, derrors.CategoryInternal, "archive processed snapshot").
			WithContext("snapshot", ref).
			Build()
	}

	p.rec.ObserveProcessDuration(time.Since(start), true)
	p.rec.AddRowsProcessed(len(snap.Counties))
	p.rec.SetStatesTracked(len(aggs))
	slog.Info("process cycle completed",
		logfields.Snapshot(ref),
		logfields.Rows(len(snap.Counties)),
		logfields.States(len(aggs)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))

	return &Result{
		Snapshot:      ref,
		RowsProcessed: len(snap.Counties),
		StatesUpdated: len(aggs),
	}, nil
}

// reject quarantines the snapshot and surfaces the validation error.
func (p *Processor) reject(ref string, start time.Time, cause *derrors.ClassifiedError) error {
	if err := p.snaps.Quarantine(ref); err != nil {
		slog.Error("failed to quarantine snapshot", logfields.Snapshot(ref), logfields.Error(err))
	} else {
		slog.Warn("snapshot quarantined", logfields.Snapshot(ref))
	}
	p.rec.ObserveProcessDuration(time.Since(start), false)
	return cause
}

// validate checks every row; one bad row rejects the whole snapshot.
func validate(snap *snapshot.Snapshot) *derrors.ClassifiedError {
	if len(snap.Counties) == 0 {
		return derrors.ValidationError("snapshot contains no county rows").Build()
	}
	for i, c := range snap.Counties {
		if c.StateName == "" {
			return derrors.ValidationError(fmt.Sprintf("row %d has no state name", i)).
				WithContext("county", c.CountyName).
				Build()
		}
		if c.Population < 0 {
			return derrors.ValidationError(fmt.Sprintf("row %d has negative population %d", i, c.Population)).
				WithContext("state", c.StateName).
				WithContext("county", c.CountyName).
				Build()
		}
	}
	return nil
}

// aggregate sums the county populations per state, deterministically ordered.
func aggregate(snap *snapshot.Snapshot, ref string, updatedAt time.Time) []store.StateAggregate {
	totals := make(map[string]int64)
	for _, c := range snap.Counties {
		totals[c.StateName] += c.Population
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	aggs := make([]store.StateAggregate, 0, len(names))
	for _, name := range names {
		aggs = append(aggs, store.StateAggregate{
			StateName:  name,
			Population: totals[name],
			UpdatedAt:  updatedAt,
			SourceFile: filepath.Base(ref),
		})
	}
	return aggs
}
