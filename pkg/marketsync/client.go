// Package marketsync provides a Go SDK for the marketsync-server API.
package marketsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const dateFormat = "2006-01-02"

// Client talks to a marketsync-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new marketsync API client. Ingestion runs are
// synchronous on the server side, so the default timeout is generous.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// Bar is one daily bar as served by the API.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// BarsResult is the response of GetBars.
type BarsResult struct {
	Symbol   string `json:"symbol"`
	Adjusted bool   `json:"adjusted"`
	Bars     []Bar  `json:"bars"`
}

// SymbolOutcome is the per-symbol slice of an ingestion run.
type SymbolOutcome struct {
	Symbol     string `json:"symbol"`
	Backfilled int64  `json:"backfilled"`
	Inserted   bool   `json:"inserted"`
	Skipped    bool   `json:"skipped"`
	Error      string `json:"error,omitempty"`
	TotalRows  int64  `json:"total_rows"`
	LatestDate string `json:"latest_date,omitempty"`
}

// IngestResult is the response of TriggerIngest.
type IngestResult struct {
	Mode       string          `json:"mode"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at"`
	Inserted   int64           `json:"inserted"`
	Failed     int             `json:"failed"`
	Results    []SymbolOutcome `json:"results"`
}

// SymbolStatus is one symbol's slice of GetStatus.
type SymbolStatus struct {
	Symbol     string `json:"symbol"`
	Rows       int64  `json:"rows"`
	LatestDate string `json:"latest_date,omitempty"`
}

// StatusResult is the response of GetStatus.
type StatusResult struct {
	Symbols []SymbolStatus `json:"symbols"`
}

// IngestOptions narrows a triggered run. The zero value runs a daily sync
// over the server's configured universe.
type IngestOptions struct {
	Symbols []string
	Mode    string    // "daily" or "historical"
	Start   time.Time // historical mode only
}

// TriggerIngest runs an ingestion synchronously and returns its summary.
// Per-symbol failures appear inside the result; an error return means the
// run never started.
func (c *Client) TriggerIngest(ctx context.Context, opts IngestOptions) (*IngestResult, error) {
	req := struct {
		Symbols []string `json:"symbols,omitempty"`
		Mode    string   `json:"mode,omitempty"`
		Start   string   `json:"start,omitempty"`
	}{Symbols: opts.Symbols, Mode: opts.Mode}
	if !opts.Start.IsZero() {
		req.Start = opts.Start.Format(dateFormat)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var result IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/ingest", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBars retrieves stored daily bars for a symbol. Zero start or end leaves
// that bound open; adjusted selects split/dividend-adjusted closes.
func (c *Client) GetBars(ctx context.Context, symbol string, start, end time.Time, adjusted bool) (*BarsResult, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.Format(dateFormat))
	}
	if !end.IsZero() {
		q.Set("end", end.Format(dateFormat))
	}
	if adjusted {
		q.Set("adjusted", "true")
	}

	path := "/api/bars/" + url.PathEscape(symbol)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result BarsResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStatus retrieves per-symbol row counts and latest dates.
func (c *Client) GetStatus(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health reports whether the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// do performs one request and decodes the JSON response into out (when out
// is non-nil). Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
