package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNoSnapshots is returned when no unprocessed snapshot exists.
var ErrNoSnapshots = errors.New("no unprocessed snapshots")

// Store manages snapshot files on disk. Unprocessed snapshots live in the
// data directory root; terminal states are the archive and error
// subdirectories. A snapshot ends up in exactly one of the two.
type Store struct {
	dir        string
	archiveDir string
	errorDir   string
}

// NewStore creates the directory layout if needed.
func NewStore(dir, archiveSub, errorSub string) (*Store, error) {
	s := &Store{
		dir:        dir,
		archiveDir: filepath.Join(dir, archiveSub),
		errorDir:   filepath.Join(dir, errorSub),
	}
	for _, d := range []string{s.dir, s.archiveDir, s.errorDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", d, err)
		}
	}
	return s, nil
}

// Write serializes the snapshot and atomically places it in the data
// directory. The write goes to a temporary name first so a concurrent reader
// never observes a partially written file. Returns the snapshot reference
// (its file name).
func (s *Store) Write(snap *Snapshot) (string, error) {
	name := FileName(snap.CapturedAt)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("finalize snapshot: %w", err)
	}
	return name, nil
}

// Read loads a snapshot by reference.
func (s *Store) Read(ref string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", ref, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", ref, err)
	}
	return &snap, nil
}

// List returns the unprocessed snapshot references, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var refs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := ParseTimestamp(e.Name()); ok {
			refs = append(refs, e.Name())
		}
	}
	sort.Strings(refs) // name order is timestamp order
	return refs, nil
}

// Latest returns the most recent unprocessed snapshot reference.
// Returns ErrNoSnapshots when none exist.
func (s *Store) Latest() (string, error) {
	refs, err := s.List()
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", ErrNoSnapshots
	}
	return refs[len(refs)-1], nil
}

// Archive moves a processed snapshot to the archive directory.
func (s *Store) Archive(ref string) error {
	return s.move(ref, s.archiveDir)
}

// Quarantine moves a rejected snapshot to the error directory.
func (s *Store) Quarantine(ref string) error {
	return s.move(ref, s.errorDir)
}

func (s *Store) move(ref, dest string) error {
	src := filepath.Join(s.dir, ref)
	if err := os.Rename(src, filepath.Join(dest, ref)); err != nil {
		return fmt.Errorf("move snapshot %s: %w", ref, err)
	}
	return nil
}
