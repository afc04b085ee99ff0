// Package domain defines the core data types shared across the ingestion
// pipeline, providers, and storage.
package domain

import (
	"fmt"
	"time"
)

// Bar is one OHLCV record for a symbol on one trading day. Bars are
// immutable once written: the pipeline only ever inserts missing ones.
type Bar struct {
	Symbol    string
	Date      time.Time // trading day, normalised to 00:00:00 UTC
	Timestamp time.Time // same instant as Date; kept distinct for range queries
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjClose  float64 // dividend/split-adjusted close; equals Close when unadjusted
	Volume    int64
}

// Validate checks the OHLC ordering invariants. A violating bar indicates a
// provider data-quality problem, not a programming error, so callers log and
// skip rather than crash.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has empty symbol")
	}
	if b.Date.IsZero() {
		return fmt.Errorf("bar %s has zero date", b.Symbol)
	}
	if b.Close < 0 {
		return fmt.Errorf("bar %s %s: close %f is negative", b.Symbol, b.Date.Format("2006-01-02"), b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s %s: volume %d is negative", b.Symbol, b.Date.Format("2006-01-02"), b.Volume)
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s %s: high %f below low %f", b.Symbol, b.Date.Format("2006-01-02"), b.High, b.Low)
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %s %s: high %f below open/close", b.Symbol, b.Date.Format("2006-01-02"), b.High)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("bar %s %s: low %f above open/close", b.Symbol, b.Date.Format("2006-01-02"), b.Low)
	}
	return nil
}
