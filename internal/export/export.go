// Package export writes stored daily bars out to Parquet files for
// consumption by analysis tools. Files are organized per symbol and year so
// repeated exports rewrite only the years they touch.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"marketsync/internal/domain"
	"marketsync/internal/store"
)

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	AdjClose  float64 `parquet:"adj_close"`
	Volume    int64   `parquet:"volume"`
}

// Exporter reads bars from a StockStore and writes them to Parquet files
// under DataDir.
type Exporter struct {
	DataDir string

	store store.StockStore
	log   *slog.Logger
}

// New creates an Exporter writing under dataDir.
func New(st store.StockStore, dataDir string) *Exporter {
	return &Exporter{
		DataDir: dataDir,
		store:   st,
		log:     slog.Default().With("component", "export"),
	}
}

// Export writes every bar in [from, to] for the given symbols. Existing
// files are merged, not clobbered: records already on disk survive unless an
// incoming record has the same symbol and timestamp. Returns the number of
// bars exported.
func (e *Exporter) Export(ctx context.Context, symbols []string, from, to time.Time) (int64, error) {
	var total int64
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		bars, err := e.store.BarsInRange(ctx, sym, from, to)
		if err != nil {
			return total, fmt.Errorf("reading %s: %w", sym, err)
		}
		if len(bars) == 0 {
			e.log.Info("no bars to export", "symbol", sym)
			continue
		}

		if err := e.writeSymbol(sym, bars); err != nil {
			return total, err
		}
		total += int64(len(bars))
		e.log.Info("exported", "symbol", sym, "bars", len(bars))
	}
	return total, nil
}

// writeSymbol writes one symbol's bars, grouped by year.
func (e *Exporter) writeSymbol(symbol string, bars []domain.Bar) error {
	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		y := b.Date.Year()
		groups[y] = append(groups[y], BarRecord{
			Symbol:    b.Symbol,
			Timestamp: b.Date.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			AdjClose:  b.AdjClose,
			Volume:    b.Volume,
		})
	}

	for year, records := range groups {
		path := e.barPath(symbol, year)

		// Merge with whatever is already on disk.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadBars reads exported bars back from Parquet for the given symbol and
// time range.
func (e *Exporter) ReadBars(symbol string, from, to time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := from.Year(); year <= to.Year(); year++ {
		records, err := readParquetFile[BarRecord](e.barPath(symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(from) || ts.After(to) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Date:      ts,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				AdjClose:  r.AdjClose,
				Volume:    r.Volume,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have exported data.
func (e *Exporter) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(e.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, ent := range entries {
		if ent.IsDir() {
			symbols = append(symbols, ent.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath returns the file path for a symbol/year pair.
// Layout: <dataDir>/daily/<SYMBOL>/<YYYY>.parquet
func (e *Exporter) barPath(symbol string, year int) string {
	return filepath.Join(e.DataDir, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates records by (symbol, timestamp), preferring
// incoming records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
