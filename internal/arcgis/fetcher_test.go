package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/retry"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
)

func fastPolicy(retries int) retry.Policy {
	return retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: retries}
}

func featurePayload(rows ...[3]any) string {
	features := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		features = append(features, map[string]any{
			"attributes": map[string]any{
				"STATE_NAME": r[0],
				"NAME":       r[1],
				"POPULATION": r[2],
			},
		})
	}
	b, _ := json.Marshal(map[string]any{"features": features})
	return string(b)
}

func TestFetchCountiesPaginates(t *testing.T) {
	pages := map[string]string{
		"0": featurePayload([3]any{"California", "Alameda", 100}, [3]any{"California", "Butte", 50}),
		"2": featurePayload([3]any{"Texas", "Travis", 200}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("resultOffset")
		body, ok := pages[offset]
		if !ok {
			body = `{"features": []}`
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 2, 100, fastPolicy(0))
	records, err := c.FetchCounties(context.Background())
	if err != nil {
		t.Fatalf("FetchCounties: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[2].StateName != "Texas" || records[2].Population != 200 {
		t.Errorf("unexpected last record: %+v", records[2])
	}
}

func TestFetchCountiesRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, featurePayload([3]any{"California", "Alameda", 100}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 100, 100, fastPolicy(2))
	records, err := c.FetchCounties(context.Background())
	if err != nil {
		t.Fatalf("FetchCounties after retry: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls (one retry), got %d", got)
	}
}

func TestFetchCountiesNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 100, 100, fastPolicy(3))
	_, err := c.FetchCounties(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !derrors.HasCategory(err, derrors.CategoryTransport) {
		t.Errorf("expected transport category, got %v", err)
	}
	if derrors.IsRetryable(err) {
		t.Error("4xx must not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 call, got %d", got)
	}
}

func TestFetchCountiesSchemaError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"service error envelope", `{"error": {"code": 400, "message": "Invalid query"}}`},
		{"missing features", `{"foo": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, time.Second, 100, 100, fastPolicy(3))
			_, err := c.FetchCounties(context.Background())
			if !derrors.HasCategory(err, derrors.CategorySchema) {
				t.Errorf("expected schema category, got %v", err)
			}
			if derrors.IsRetryable(err) {
				t.Error("schema errors must not be retryable")
			}
		})
	}
}

func TestFetchStateTotals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("groupByFieldsForStatistics") != "STATE_NAME" {
			t.Errorf("missing group-by parameter")
		}
		fmt.Fprint(w, `{"features": [
			{"attributes": {"state_name": "California", "total_population": 39500000}},
			{"attributes": {"state_name": "Texas", "total_population": 29100000}}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 100, 100, fastPolicy(0))
	totals, err := c.FetchStateTotals(context.Background())
	if err != nil {
		t.Fatalf("FetchStateTotals: %v", err)
	}
	if len(totals) != 2 || totals[0].StateName != "California" || totals[0].Population != 39500000 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

func TestFetcherWritesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, featurePayload(
			[3]any{"California", "Alameda", 100},
			[3]any{"Texas", "Travis", 200},
		))
	}))
	defer srv.Close()

	snaps, err := snapshot.NewStore(t.TempDir(), "processed", "error")
	if err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(NewClient(srv.URL, time.Second, 100, 100, fastPolicy(0)), snaps, nil)

	res, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("rows = %d, want 2", res.Rows)
	}

	snap, err := snaps.Read(res.Snapshot)
	if err != nil {
		t.Fatalf("reading written snapshot: %v", err)
	}
	if len(snap.Counties) != 2 {
		t.Errorf("snapshot rows = %d, want 2", len(snap.Counties))
	}
	if _, ok := snapshot.ParseTimestamp(res.Snapshot); !ok {
		t.Errorf("snapshot ref %q not in canonical form", res.Snapshot)
	}
}
