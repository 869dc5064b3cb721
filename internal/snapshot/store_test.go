package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "processed", "error")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestFileNameRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	name := FileName(at)
	if name != "demographic_data_20260314_092653.json" {
		t.Fatalf("unexpected name %q", name)
	}
	parsed, ok := ParseTimestamp(name)
	if !ok || !parsed.Equal(at) {
		t.Fatalf("ParseTimestamp(%q) = %v, %v", name, parsed, ok)
	}
}

func TestParseTimestampRejectsStrays(t *testing.T) {
	for _, name := range []string{
		"demographic_data_2026.json",
		"notes.txt",
		"demographic_data_20260314_092653.json.tmp-123",
	} {
		if _, ok := ParseTimestamp(name); ok {
			t.Errorf("ParseTimestamp(%q) should not match", name)
		}
	}
}

func TestWriteReadLatest(t *testing.T) {
	s := newTestStore(t)

	older := &Snapshot{
		CapturedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Counties:   []CountyRecord{{StateName: "Texas", CountyName: "Travis", Population: 200}},
	}
	newer := &Snapshot{
		CapturedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Counties:   []CountyRecord{{StateName: "California", CountyName: "Alameda", Population: 100}},
	}

	if _, err := s.Write(older); err != nil {
		t.Fatalf("Write older: %v", err)
	}
	newerRef, err := s.Write(newer)
	if err != nil {
		t.Fatalf("Write newer: %v", err)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != newerRef {
		t.Errorf("Latest = %q, want %q", latest, newerRef)
	}

	snap, err := s.Read(latest)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(snap.Counties) != 1 || snap.Counties[0].StateName != "California" {
		t.Errorf("unexpected snapshot content: %+v", snap)
	}
}

func TestLatestEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Latest(); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("expected ErrNoSnapshots, got %v", err)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write(&Snapshot{CapturedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatal(err)
	}
	files := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files++
		if _, ok := ParseTimestamp(e.Name()); !ok {
			t.Errorf("stray file left behind: %s", e.Name())
		}
	}
	if files != 1 {
		t.Errorf("expected exactly one snapshot file, found %d", files)
	}
}

func TestArchiveAndQuarantineAreExclusive(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.Write(&Snapshot{CapturedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Archive(ref); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.archiveDir, ref)); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
	// Once archived, the snapshot is no longer unprocessed and cannot be
	// quarantined too.
	if err := s.Quarantine(ref); err == nil {
		t.Error("Quarantine after Archive should fail")
	}

	refs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Errorf("archived snapshot still listed as unprocessed: %v", refs)
	}
}
