package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
	"github.com/Raiccio/demographics-backend/internal/store"
)

type fixture struct {
	snaps *snapshot.Store
	db    *store.Store
	proc  *Processor
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	snaps, err := snapshot.NewStore(dir, "processed", "error")
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &fixture{snaps: snaps, db: db, proc: NewProcessor(snaps, db, nil), dir: dir}
}

func (f *fixture) write(t *testing.T, at time.Time, counties ...snapshot.CountyRecord) string {
	t.Helper()
	ref, err := f.snaps.Write(&snapshot.Snapshot{CapturedAt: at, Counties: counties})
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func (f *fixture) population(t *testing.T, state string) int64 {
	t.Helper()
	agg, err := f.db.GetOne(context.Background(), state)
	if err != nil {
		t.Fatalf("GetOne(%s): %v", state, err)
	}
	return agg.Population
}

func county(state, name string, pop int64) snapshot.CountyRecord {
	return snapshot.CountyRecord{StateName: state, CountyName: name, Population: pop}
}

func TestProcessAggregatesByState(t *testing.T) {
	f := newFixture(t)
	ref := f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		county("California", "CA-A", 100),
		county("California", "CA-B", 50),
		county("Texas", "TX-A", 200),
	)

	res, err := f.proc.Process(context.Background(), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Snapshot != ref || res.RowsProcessed != 3 || res.StatesUpdated != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if got := f.population(t, "California"); got != 150 {
		t.Errorf("California = %d, want 150", got)
	}
	if got := f.population(t, "Texas"); got != 200 {
		t.Errorf("Texas = %d, want 200", got)
	}

	// Archived, not quarantined.
	if _, err := os.Stat(filepath.Join(f.dir, "processed", ref)); err != nil {
		t.Errorf("snapshot not archived: %v", err)
	}
}

func TestProcessSecondCycleKeepsAbsentStates(t *testing.T) {
	f := newFixture(t)
	f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		county("California", "CA-A", 100),
		county("California", "CA-B", 50),
		county("Texas", "TX-A", 200),
	)
	if _, err := f.proc.Process(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	f.write(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		county("California", "CA-A", 120),
		county("California", "CA-B", 50),
	)
	if _, err := f.proc.Process(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	if got := f.population(t, "California"); got != 170 {
		t.Errorf("California = %d, want 170", got)
	}
	// Texas was absent from the second snapshot; its row must survive.
	if got := f.population(t, "Texas"); got != 200 {
		t.Errorf("Texas = %d, want 200", got)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	counties := []snapshot.CountyRecord{
		county("California", "CA-A", 100),
		county("Texas", "TX-A", 200),
	}
	f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), counties...)
	if _, err := f.proc.Process(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	first, err := f.db.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	f.write(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), counties...)
	if _, err := f.proc.Process(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	second, err := f.db.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("row count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].StateName != second[i].StateName || first[i].Population != second[i].Population {
			t.Errorf("aggregate changed for %s: %d vs %d",
				first[i].StateName, first[i].Population, second[i].Population)
		}
	}
}

func TestProcessRejectsNegativePopulation(t *testing.T) {
	f := newFixture(t)
	ref := f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		county("California", "CA-A", 100),
		county("Texas", "TX-A", -5),
	)

	_, err := f.proc.Process(context.Background(), "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !derrors.HasCategory(err, derrors.CategoryValidation) {
		t.Errorf("expected validation category, got %v", err)
	}

	// Zero rows changed.
	all, gerr := f.db.GetAll(context.Background())
	if gerr != nil {
		t.Fatal(gerr)
	}
	if len(all) != 0 {
		t.Errorf("expected no aggregate rows, got %+v", all)
	}

	// Quarantined, not archived.
	if _, serr := os.Stat(filepath.Join(f.dir, "error", ref)); serr != nil {
		t.Errorf("snapshot not quarantined: %v", serr)
	}
	if _, serr := os.Stat(filepath.Join(f.dir, "processed", ref)); !errors.Is(serr, os.ErrNotExist) {
		t.Error("snapshot must not be archived on validation failure")
	}
}

func TestProcessRejectsMissingStateName(t *testing.T) {
	f := newFixture(t)
	f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		county("", "Nowhere", 10),
	)

	_, err := f.proc.Process(context.Background(), "")
	if !derrors.HasCategory(err, derrors.CategoryValidation) {
		t.Errorf("expected validation category, got %v", err)
	}
}

func TestProcessSumInvariant(t *testing.T) {
	f := newFixture(t)
	counties := []snapshot.CountyRecord{
		county("California", "CA-A", 11),
		county("California", "CA-B", 22),
		county("Texas", "TX-A", 33),
		county("Nevada", "NV-A", 44),
	}
	f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), counties...)
	if _, err := f.proc.Process(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	var want, got int64
	for _, c := range counties {
		want += c.Population
	}
	all, err := f.db.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, agg := range all {
		got += agg.Population
	}
	if got != want {
		t.Errorf("population sum mismatch: %d vs %d", got, want)
	}
}

func TestProcessNoSnapshots(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Process(context.Background(), "")
	if !derrors.HasCategory(err, derrors.CategoryNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestProcessSpecificRef(t *testing.T) {
	f := newFixture(t)
	older := f.write(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		county("Texas", "TX-A", 200),
	)
	f.write(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		county("California", "CA-A", 100),
	)

	res, err := f.proc.Process(context.Background(), older)
	if err != nil {
		t.Fatalf("Process(%s): %v", older, err)
	}
	if res.Snapshot != older {
		t.Errorf("processed %q, want %q", res.Snapshot, older)
	}
	if got := f.population(t, "Texas"); got != 200 {
		t.Errorf("Texas = %d, want 200", got)
	}
}
