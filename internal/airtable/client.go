// Package airtable fetches application records from the Airtable REST API.
//
// Fetch semantics:
//   - Each cohort (one Airtable table) is paged to completion using the
//     opaque "offset" continuation token.
//   - A cohort that returns 404 is skipped with a warning; other non-200
//     statuses and network failures abort that cohort only. Partial
//     ingestion is preferred over total failure.
//   - Every emitted record carries provenance: the Airtable record id, the
//     record creation time, and the cohort label.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"appsync/internal/metrics"
	"appsync/internal/schema"
)

// DefaultBaseURL is the production Airtable API endpoint. Tests point the
// client at an httptest server instead.
const DefaultBaseURL = "https://api.airtable.com/v0"

// Record is one raw source row: the form's field labels mapped to untyped
// values, plus injected provenance fields. Records are ephemeral; the merge
// engine consumes them immediately.
type Record struct {
	// Fields holds the raw label -> value pairs including provenance.
	Fields map[string]any
	// Labels preserves field encounter order so duplicate-column folding is
	// deterministic (first non-null by ingestion order).
	Labels []string
}

// Client talks to one Airtable base.
type Client struct {
	BaseURL string
	BaseID  string
	APIKey  string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// NewClient constructs a Client for a base.
func NewClient(baseID, apiKey string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		BaseID:     baseID,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// page mirrors the Airtable list-records response envelope. Fields is kept
// raw so key order can be recovered; see decodeOrderedObject.
type page struct {
	Records []struct {
		ID          string          `json:"id"`
		CreatedTime string          `json:"createdTime"`
		Fields      json.RawMessage `json:"fields"`
	} `json:"records"`
	Offset string `json:"offset"`
}

// decodeOrderedObject decodes a JSON object into a map plus its key order.
//
// Why this exists:
//   - Duplicate-column folding keeps the first non-null value in ingestion
//     order. encoding/json maps discard object order, which would make the
//     fold nondeterministic across runs.
func decodeOrderedObject(raw json.RawMessage) (map[string]any, []string, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil, nil
	}

	values := make(map[string]any)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, nil, err
	}

	// Second pass recovers key order from the token stream; values are
	// skipped, not materialized.
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if tok != json.Delim('{') {
		return nil, nil, fmt.Errorf("fields is not an object")
	}

	keys := make([]string, 0, len(values))
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		k, ok := kt.(string)
		if !ok {
			return nil, nil, fmt.Errorf("object key not a string (got %T)", kt)
		}
		keys = append(keys, k)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, nil, err
		}
	}
	return values, keys, nil
}

// FetchAll retrieves every record for the named cohort tables, in table
// order. Failures are per-cohort: a cohort that fails mid-pagination is
// skipped entirely and contributes no records, so the returned slice holds
// only records from cohorts that paged to completion.
func (c *Client) FetchAll(ctx context.Context, tables []string) ([]Record, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("airtable: missing API key")
	}

	var all []Record
	for _, table := range tables {
		recs, err := c.fetchTable(ctx, table)
		if err != nil {
			// ctx cancellation is the one fetch error worth failing the whole
			// run for; everything else degrades to a skipped cohort.
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			log.Printf("airtable: cohort %q skipped: %v", table, err)
			metrics.IncCounter("sync_cohorts_total", 1, metrics.Labels{"status": "skipped"})
			continue
		}
		metrics.IncCounter("sync_cohorts_total", 1, metrics.Labels{"status": "ok"})
		all = append(all, recs...)
	}
	return all, nil
}

// fetchTable pages one table to completion.
func (c *Client) fetchTable(ctx context.Context, table string) ([]Record, error) {
	cohort := schema.CohortLabel(table)

	var out []Record
	offset := ""
	for {
		p, status, err := c.getPage(ctx, table, offset)
		metrics.IncCounter("airtable_requests_total", 1, metrics.Labels{"status": strconv.Itoa(status)})
		if err != nil {
			return out, err
		}
		switch {
		case status == http.StatusNotFound:
			return out, fmt.Errorf("table not found or not permitted")
		case status != http.StatusOK:
			return out, fmt.Errorf("unexpected status %d", status)
		}

		for _, rec := range p.Records {
			raw, order, err := decodeOrderedObject(rec.Fields)
			if err != nil {
				return out, fmt.Errorf("decode record %s fields: %w", rec.ID, err)
			}

			fields := make(map[string]any, len(raw)+3)
			labels := make([]string, 0, len(raw)+3)

			// Provenance first so identity columns always win the
			// first-non-null fold over a source field that cleans to the
			// same name.
			fields[schema.ColID] = rec.ID
			fields[schema.ColCreated] = rec.CreatedTime
			fields[schema.ColCohort] = cohort
			labels = append(labels, schema.ColID, schema.ColCreated, schema.ColCohort)

			for _, label := range order {
				if _, taken := fields[label]; taken {
					continue
				}
				fields[label] = raw[label]
				labels = append(labels, label)
			}

			out = append(out, Record{Fields: fields, Labels: labels})
		}

		if p.Offset == "" {
			return out, nil
		}
		offset = p.Offset
	}
}

// getPage performs one list-records request. The HTTP status is returned
// alongside the page so the caller can distinguish 404 from other failures.
func (c *Client) getPage(ctx context.Context, table, offset string) (*page, int, error) {
	u := fmt.Sprintf("%s/%s/%s", c.BaseURL, url.PathEscape(c.BaseID), url.PathEscape(table))
	if offset != "" {
		u += "?offset=" + url.QueryEscape(offset)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused; the body content is only
		// diagnostic at this point.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode page: %w", err)
	}
	return &p, resp.StatusCode, nil
}
