// Package snapshot persists raw fetch results as timestamped JSON files and
// tracks their lifecycle: unprocessed in the data directory root, then moved
// exactly once to either the archive or the error subdirectory.
package snapshot

import (
	"regexp"
	"time"
)

// CountyRecord is one unprocessed county row as returned by a fetch cycle.
type CountyRecord struct {
	StateName  string `json:"state_name"`
	CountyName string `json:"county_name"`
	Population int64  `json:"population"`
}

// Snapshot is the immutable payload of one fetch cycle.
type Snapshot struct {
	CapturedAt time.Time      `json:"captured_at"`
	Counties   []CountyRecord `json:"counties"`
}

const (
	filePrefix = "demographic_data_"
	fileSuffix = ".json"
	// timestampLayout matches the filename fragment: YYYYMMDD_HHMMSS.
	timestampLayout = "20060102_150405"
)

var fileNamePattern = regexp.MustCompile(`^demographic_data_(\d{8}_\d{6})\.json$`)

// FileName returns the canonical snapshot file name for a capture time.
func FileName(capturedAt time.Time) string {
	return filePrefix + capturedAt.UTC().Format(timestampLayout) + fileSuffix
}

// ParseTimestamp extracts the capture time embedded in a snapshot file name.
func ParseTimestamp(name string) (time.Time, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
