package arcgis

import (
	"context"
	"log/slog"
	"time"

	"github.com/Raiccio/demographics-backend/internal/logfields"
	"github.com/Raiccio/demographics-backend/internal/metrics"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
)

// FetchResult summarizes one successful fetch cycle.
type FetchResult struct {
	Snapshot string `json:"snapshot"`
	Rows     int    `json:"rows"`
}

// Fetcher runs one fetch cycle: query the feature service, capture the rows
// as a timestamped snapshot. It never touches the relational store.
type Fetcher struct {
	client *Client
	snaps  *snapshot.Store
	rec    metrics.Recorder
}

// NewFetcher wires a fetcher. A nil recorder disables metrics.
func NewFetcher(client *Client, snaps *snapshot.Store, rec metrics.Recorder) *Fetcher {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Fetcher{client: client, snaps: snaps, rec: rec}
}

// Fetch performs one cycle. On success exactly one new snapshot file exists.
func (f *Fetcher) Fetch(ctx context.Context) (*FetchResult, error) {
	start := time.Now()

	records, err := f.client.FetchCounties(ctx)
	if err != nil {
		f.rec.ObserveFetchDuration(time.Since(start), false)
		return nil, err
	}

	snap := &snapshot.Snapshot{
		CapturedAt: time.Now().UTC(),
		Counties:   records,
	}
	ref, err := f.snaps.Write(snap)
	if err != nil {
		f.rec.ObserveFetchDuration(time.Since(start), false)
		return nil, err
	}

	f.rec.ObserveFetchDuration(time.Since(start), true)
	slog.Info("fetch cycle completed",
		logfields.Snapshot(ref),
		logfields.Rows(len(records)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))

	return &FetchResult{Snapshot: ref, Rows: len(records)}, nil
}
