package httpapi

import (
	"marketsync/internal/domain"
	"marketsync/internal/ingest"
)

// IngestRequest is the body of POST /api/ingest. All fields are optional;
// an empty body runs a daily sync over the configured symbol universe.
type IngestRequest struct {
	Symbols []string `json:"symbols,omitempty"`
	Mode    string   `json:"mode,omitempty"`  // "daily" (default) or "historical"
	Start   string   `json:"start,omitempty"` // YYYY-MM-DD, historical mode only
}

// SymbolOutcome is the per-symbol slice of an ingestion response.
type SymbolOutcome struct {
	Symbol     string `json:"symbol"`
	Backfilled int64  `json:"backfilled"`
	Inserted   bool   `json:"inserted"`
	Skipped    bool   `json:"skipped"`
	Error      string `json:"error,omitempty"`
	TotalRows  int64  `json:"total_rows"`
	LatestDate string `json:"latest_date,omitempty"`
}

// IngestResponse is the body of a completed ingestion run. Partial failures
// still produce this response with a 200; only a run that could not start
// returns an error status.
type IngestResponse struct {
	Mode       string          `json:"mode"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at"`
	Inserted   int64           `json:"inserted"`
	Failed     int             `json:"failed"`
	Results    []SymbolOutcome `json:"results"`
}

func newIngestResponse(s *ingest.Summary) IngestResponse {
	resp := IngestResponse{
		Mode:       s.Mode,
		StartedAt:  s.StartedAt.UTC().Format(timeFormat),
		FinishedAt: s.FinishedAt.UTC().Format(timeFormat),
		Inserted:   s.Inserted(),
		Failed:     s.Failed(),
		Results:    make([]SymbolOutcome, len(s.Results)),
	}
	for i, r := range s.Results {
		out := SymbolOutcome{
			Symbol:     r.Symbol,
			Backfilled: r.Backfilled,
			Inserted:   r.Inserted,
			Skipped:    r.Skipped,
			TotalRows:  r.TotalRows,
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		if !r.LatestDate.IsZero() {
			out.LatestDate = r.LatestDate.Format(dateFormat)
		}
		resp.Results[i] = out
	}
	return resp
}

// BarJSON is one daily bar on the wire. When the request asked for adjusted
// prices the whole OHLC row is scaled by adjClose/close.
type BarJSON struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// BarsResponse is the body of GET /api/bars/{symbol}.
type BarsResponse struct {
	Symbol   string    `json:"symbol"`
	Adjusted bool      `json:"adjusted"`
	Bars     []BarJSON `json:"bars"`
}

func newBarsResponse(symbol string, bars []domain.Bar, adjusted bool) BarsResponse {
	resp := BarsResponse{Symbol: symbol, Adjusted: adjusted, Bars: make([]BarJSON, len(bars))}
	for i, b := range bars {
		bj := BarJSON{
			Date:   b.Date.Format(dateFormat),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
		if adjusted && b.Close != 0 {
			factor := b.AdjClose / b.Close
			bj.Open = b.Open * factor
			bj.High = b.High * factor
			bj.Low = b.Low * factor
			bj.Close = b.AdjClose
		}
		resp.Bars[i] = bj
	}
	return resp
}

// SymbolStatus is the per-symbol slice of GET /api/status.
type SymbolStatus struct {
	Symbol     string `json:"symbol"`
	Rows       int64  `json:"rows"`
	LatestDate string `json:"latest_date,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Symbols []SymbolStatus `json:"symbols"`
}

const (
	dateFormat = "2006-01-02"
	timeFormat = "2006-01-02T15:04:05Z"
)
