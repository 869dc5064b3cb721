// Package arcgis queries an ArcGIS FeatureServer layer for county-level
// census rows and writes the results as snapshots.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/retry"
	"github.com/Raiccio/demographics-backend/internal/snapshot"
)

const maxResponseBytes = 32 * 1024 * 1024

// feature is one row of a FeatureServer query response.
type feature struct {
	Attributes struct {
		StateName  string   `json:"STATE_NAME"`
		CountyName string   `json:"NAME"`
		Population *float64 `json:"POPULATION"`
		// Fields produced by the statistics query.
		TotalPopulation *float64 `json:"total_population"`
		AggStateName    string   `json:"state_name"`
	} `json:"attributes"`
}

// queryResponse is the FeatureServer query envelope. The service reports its
// own errors inside a 200 response body.
type queryResponse struct {
	Features []feature `json:"features"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StateTotal is one server-side aggregated row.
type StateTotal struct {
	StateName  string `json:"state_name"`
	Population int64  `json:"population"`
}

// Client issues queries against one FeatureServer layer query endpoint.
type Client struct {
	queryURL   string
	httpClient *http.Client
	pageSize   int
	maxRecords int
	policy     retry.Policy
}

// NewClient builds a client with a bounded request timeout.
func NewClient(queryURL string, timeout time.Duration, pageSize, maxRecords int, policy retry.Policy) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		queryURL:   queryURL,
		httpClient: &http.Client{Timeout: timeout},
		pageSize:   pageSize,
		maxRecords: maxRecords,
		policy:     policy,
	}
}

// FetchCounties retrieves all county rows, paginating with
// resultOffset/resultRecordCount up to the configured record bound. Each page
// request is retried per the policy on transient failures only.
func (c *Client) FetchCounties(ctx context.Context) ([]snapshot.CountyRecord, error) {
	var records []snapshot.CountyRecord
	offset := 0

	for {
		params := url.Values{}
		params.Set("where", "1=1")
		params.Set("outFields", "STATE_NAME,NAME,POPULATION")
		params.Set("returnGeometry", "false")
		params.Set("f", "json")
		params.Set("resultOffset", strconv.Itoa(offset))
		params.Set("resultRecordCount", strconv.Itoa(c.pageSize))

		resp, err := c.queryWithRetry(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Features) == 0 {
			break
		}

		for _, f := range resp.Features {
			pop := int64(0)
			if f.Attributes.Population != nil {
				pop = int64(*f.Attributes.Population)
			}
			records = append(records, snapshot.CountyRecord{
				StateName:  f.Attributes.StateName,
				CountyName: f.Attributes.CountyName,
				Population: pop,
			})
		}

		offset += c.pageSize
		if len(resp.Features) < c.pageSize || len(records) >= c.maxRecords {
			break
		}
	}

	if len(records) == 0 {
		return nil, derrors.SchemaError("feature service returned no features").
			WithContext("url", c.queryURL).
			Build()
	}
	return records, nil
}

// FetchStateTotals asks the service for server-side aggregation: sum of
// POPULATION grouped by STATE_NAME. Used by the one-shot preview command;
// the pipeline itself persists county rows.
func (c *Client) FetchStateTotals(ctx context.Context) ([]StateTotal, error) {
	stats, err := json.Marshal([]map[string]string{
		{
			"statisticType":         "sum",
			"onStatisticField":      "POPULATION",
			"outStatisticFieldName": "total_population",
		},
		{
			"statisticType":         "first",
			"onStatisticField":      "STATE_NAME",
			"outStatisticFieldName": "state_name",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal statistics definition: %w", err)
	}

	params := url.Values{}
	params.Set("where", "1=1")
	params.Set("outStatistics", string(stats))
	params.Set("groupByFieldsForStatistics", "STATE_NAME")
	params.Set("f", "json")

	resp, err := c.queryWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}

	totals := make([]StateTotal, 0, len(resp.Features))
	for _, f := range resp.Features {
		if f.Attributes.TotalPopulation == nil || f.Attributes.AggStateName == "" {
			return nil, derrors.SchemaError("statistics response missing aggregated fields").
				WithContext("url", c.queryURL).
				Build()
		}
		totals = append(totals, StateTotal{
			StateName:  f.Attributes.AggStateName,
			Population: int64(*f.Attributes.TotalPopulation),
		})
	}
	return totals, nil
}

// queryWithRetry issues one query, retrying transient failures per the policy.
// Non-retryable classifications (4xx, schema mismatches) surface immediately.
func (c *Client) queryWithRetry(ctx context.Context, params url.Values) (*queryResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.query(ctx, params)
		if err == nil {
			return resp, nil
		}
		if !derrors.IsRetryable(err) || attempt >= c.policy.MaxRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, derrors.WrapError(ctx.Err(), derrors.CategoryTransport, "fetch canceled").Build()
		case <-time.After(c.policy.Delay(attempt + 1)):
		}
	}
}

func (c *Client) query(ctx context.Context, params url.Values) (*queryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryTransport, "feature service request failed").
			Retryable().
			WithContext("url", c.queryURL).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, derrors.TransportError(fmt.Sprintf("feature service returned HTTP %d", resp.StatusCode)).
			WithContext("url", c.queryURL).
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Client errors are permanent; retrying the same query cannot help.
		return nil, derrors.NewError(derrors.CategoryTransport, fmt.Sprintf("feature service rejected query: HTTP %d", resp.StatusCode)).
			WithContext("url", c.queryURL).
			Build()
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryTransport, "read feature service response").
			Retryable().
			Build()
	}
	if len(data) > maxResponseBytes {
		return nil, derrors.SchemaError("feature service response too large").Build()
	}

	var parsed queryResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, derrors.WrapError(err, derrors.CategorySchema, "feature service response is not valid JSON").Build()
	}
	if parsed.Error != nil {
		return nil, derrors.SchemaError("feature service error response").
			WithContext("code", parsed.Error.Code).
			WithContext("message", parsed.Error.Message).
			Build()
	}
	if parsed.Features == nil {
		return nil, derrors.SchemaError("feature service response missing features").Build()
	}
	return &parsed, nil
}
