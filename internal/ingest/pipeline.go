// Package ingest orchestrates the stock-data ingestion and backfill
// pipeline: per symbol, a gap-driven backfill phase followed by a
// current-day quote phase, with retries, rate limiting, and idempotent
// writes. Symbols are processed sequentially; parallel calls would blow
// through the providers' per-minute quotas.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/provider"
	"marketsync/internal/store"
	"marketsync/internal/util"
)

// Run modes selected by the trigger.
const (
	ModeDaily      = "daily"
	ModeHistorical = "historical"
)

// IncompleteQuoteError marks a quote that was fetched successfully but is
// missing required fields. It is a data-quality failure for that symbol and
// is not retried.
type IncompleteQuoteError struct {
	Symbol string
}

func (e *IncompleteQuoteError) Error() string {
	return fmt.Sprintf("incomplete quote for %s: missing required fields", e.Symbol)
}

// SymbolResult is the per-symbol outcome of a run.
type SymbolResult struct {
	Symbol     string
	Backfilled int64 // rows inserted by the backfill or historical phase
	Inserted   bool  // current-day bar written
	Skipped    bool  // current-day bar already present
	Err        error

	// Read back from the store after the run.
	TotalRows  int64
	LatestDate time.Time
}

// Summary is the outcome of a whole run. The run reaches a summary even
// when individual symbols fail; only an unreachable store aborts it.
type Summary struct {
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []SymbolResult
}

// Inserted returns the total number of rows written during the run.
func (s *Summary) Inserted() int64 {
	var n int64
	for _, r := range s.Results {
		n += r.Backfilled
		if r.Inserted {
			n++
		}
	}
	return n
}

// Failed returns the number of symbols that ended in error.
func (s *Summary) Failed() int {
	var n int
	for _, r := range s.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Options carries the pipeline tunables. All values come straight from
// configuration.
type Options struct {
	QuoteClient    provider.Client
	SeriesClient   provider.Client
	QuoteInterval  time.Duration
	SeriesInterval time.Duration
	MaxRetries     int
	BaseRetryDelay time.Duration
	SymbolInterval time.Duration
}

// Pipeline runs the ingestion state machine over a symbol list. It holds no
// shared mutable state across symbols beyond the store handle and the rate
// limiters' clocks.
type Pipeline struct {
	store         store.StockStore
	quote         provider.Client
	series        provider.Client
	quoteLimiter  *util.RateLimiter
	seriesLimiter *util.RateLimiter

	maxRetries     int
	baseRetryDelay time.Duration
	symbolInterval time.Duration

	now func() time.Time
	log *slog.Logger
}

// New creates a Pipeline over the given store. When the quote and series
// clients name the same provider they share one rate limiter, so spacing is
// enforced across phases too.
func New(st store.StockStore, opts Options) *Pipeline {
	p := &Pipeline{
		store:          st,
		quote:          opts.QuoteClient,
		series:         opts.SeriesClient,
		quoteLimiter:   util.NewRateLimiter(opts.QuoteInterval),
		maxRetries:     opts.MaxRetries,
		baseRetryDelay: opts.BaseRetryDelay,
		symbolInterval: opts.SymbolInterval,
		now:            time.Now,
		log:            slog.Default().With("component", "pipeline"),
	}

	if opts.SeriesClient != nil && opts.QuoteClient != nil && opts.SeriesClient.Name() == opts.QuoteClient.Name() {
		p.seriesLimiter = p.quoteLimiter
	} else {
		p.seriesLimiter = util.NewRateLimiter(opts.SeriesInterval)
	}
	return p
}

// Run executes a daily sync over symbols: a backfill phase for every symbol,
// then a current-day phase for every symbol. Per-symbol failures are caught
// and recorded, never propagated; the only fatal condition is a store that
// is unreachable at the start.
func (p *Pipeline) Run(ctx context.Context, symbols []string) (*Summary, error) {
	if err := p.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	summary := &Summary{Mode: ModeDaily, StartedAt: p.now()}
	summary.Results = make([]SymbolResult, len(symbols))
	for i, sym := range symbols {
		summary.Results[i].Symbol = sym
	}

	p.log.Info("run started", "mode", ModeDaily, "symbols", symbols)

	// Backfill phase.
	for i := range summary.Results {
		r := &summary.Results[i]
		if err := ctx.Err(); err != nil {
			r.Err = err
			continue
		}
		p.backfillSymbol(ctx, r)
		p.pause(ctx)
	}

	// Current-day phase.
	for i := range summary.Results {
		r := &summary.Results[i]
		if r.Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.Err = err
			continue
		}
		p.currentDaySymbol(ctx, r)
		p.pause(ctx)
	}

	p.verify(ctx, summary)
	summary.FinishedAt = p.now()
	p.log.Info("run finished", "mode", ModeDaily,
		"inserted", summary.Inserted(), "failed", summary.Failed(),
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	return summary, nil
}

// RunHistorical executes an explicit cold-start load: the full daily series
// from start through today for every symbol, bulk-inserted with dedup. It
// is safe to re-run; existing rows are skipped.
func (p *Pipeline) RunHistorical(ctx context.Context, symbols []string, start time.Time) (*Summary, error) {
	if err := p.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	summary := &Summary{Mode: ModeHistorical, StartedAt: p.now()}
	summary.Results = make([]SymbolResult, len(symbols))
	today := util.MidnightUTC(p.now())

	p.log.Info("run started", "mode", ModeHistorical, "symbols", symbols, "start", start.Format("2006-01-02"))

	for i, sym := range symbols {
		r := &summary.Results[i]
		r.Symbol = sym
		if err := ctx.Err(); err != nil {
			r.Err = err
			continue
		}

		n, err := p.fetchAndStoreSeries(ctx, sym, start, today)
		if err != nil {
			r.Err = err
			p.log.Error("historical load failed", "symbol", sym, "error", err)
		} else {
			r.Backfilled = n
			p.log.Info("historical load done", "symbol", sym, "inserted", n)
		}
		p.pause(ctx)
	}

	p.verify(ctx, summary)
	summary.FinishedAt = p.now()
	p.log.Info("run finished", "mode", ModeHistorical,
		"inserted", summary.Inserted(), "failed", summary.Failed())
	return summary, nil
}

// backfillSymbol closes any date gap between the symbol's latest stored bar
// and today. Errors are recorded on the result, never returned.
func (p *Pipeline) backfillSymbol(ctx context.Context, r *SymbolResult) {
	log := p.log.With("symbol", r.Symbol, "phase", "backfill")

	latest, err := p.store.LatestBar(ctx, r.Symbol)
	if err != nil {
		r.Err = err
		log.Error("querying latest bar", "error", err)
		return
	}
	if latest == nil {
		log.Info("no existing data, skipping backfill")
		return
	}

	today := util.MidnightUTC(p.now())
	win := AnalyzeGap(latest.Date, today)
	if win == nil {
		log.Info("data is current", "latest", latest.Date.Format("2006-01-02"))
		return
	}

	log.Info("gap detected, backfilling",
		"latest", latest.Date.Format("2006-01-02"),
		"from", win.From.Format("2006-01-02"),
		"to", win.To.Format("2006-01-02"))

	n, err := p.fetchAndStoreSeries(ctx, r.Symbol, win.From, win.To)
	if err != nil {
		// Caught here: the current-day phase still runs for this symbol,
		// and the remaining symbols are unaffected.
		log.Error("backfill failed", "error", err)
		return
	}
	r.Backfilled = n
	log.Info("backfilled", "inserted", n)
}

// fetchAndStoreSeries fetches the daily series for [from, to] through the
// retry policy and rate limiter, validates the rows, and bulk-inserts them
// with duplicate skipping. Returns the number of rows actually inserted.
func (p *Pipeline) fetchAndStoreSeries(ctx context.Context, symbol string, from, to time.Time) (int64, error) {
	var bars []domain.Bar
	err := util.Retry(ctx, p.maxRetries, p.baseRetryDelay, func() error {
		if err := p.seriesLimiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		bars, ferr = p.series.FetchDailySeries(ctx, symbol, from, to)
		return ferr
	})
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		p.log.Info("no series data available", "symbol", symbol)
		return 0, nil
	}

	valid := bars[:0:0]
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			p.log.Warn("dropping invalid bar", "symbol", symbol, "error", err)
			continue
		}
		valid = append(valid, b)
	}

	return p.store.InsertBars(ctx, valid)
}

// currentDaySymbol fetches and stores today's bar for the symbol unless one
// already exists. Errors are recorded on the result, never returned.
func (p *Pipeline) currentDaySymbol(ctx context.Context, r *SymbolResult) {
	log := p.log.With("symbol", r.Symbol, "phase", "current-day")
	today := util.MidnightUTC(p.now())

	exists, err := p.store.ExistsOnDate(ctx, r.Symbol, today)
	if err != nil {
		r.Err = err
		log.Error("checking existing bar", "error", err)
		return
	}
	if exists {
		r.Skipped = true
		log.Info("bar already exists, skipping", "date", today.Format("2006-01-02"))
		return
	}

	var q provider.Quote
	err = util.Retry(ctx, p.maxRetries, p.baseRetryDelay, func() error {
		if err := p.quoteLimiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		q, ferr = p.quote.FetchQuote(ctx, r.Symbol)
		return ferr
	})
	if err != nil {
		r.Err = err
		log.Error("quote fetch failed", "error", err)
		return
	}

	// All five fields must be present and non-zero; a partial quote is a
	// data-quality failure, not a retriable one.
	if q.Open == 0 || q.High == 0 || q.Low == 0 || q.Price == 0 || q.Volume == 0 {
		r.Err = &IncompleteQuoteError{Symbol: r.Symbol}
		log.Error("quote incomplete", "quote", fmt.Sprintf("%+v", q))
		return
	}

	bar := domain.Bar{
		Symbol:    r.Symbol,
		Date:      today,
		Timestamp: today,
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
		Close:     q.Price,
		AdjClose:  q.Price,
		Volume:    q.Volume,
	}
	if err := bar.Validate(); err != nil {
		r.Err = err
		log.Error("quote produced invalid bar", "error", err)
		return
	}

	if err := p.store.InsertBar(ctx, bar); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with an overlapping run; the row exists, which is
			// all this phase guarantees.
			r.Skipped = true
			log.Warn("bar inserted concurrently, treating as skip")
			return
		}
		r.Err = err
		log.Error("inserting bar", "error", err)
		return
	}

	r.Inserted = true
	log.Info("inserted current-day bar", "date", today.Format("2006-01-02"), "close", bar.Close)
}

// verify reads back per-symbol totals after the run. Failures here are
// logged only; they never change a symbol's outcome.
func (p *Pipeline) verify(ctx context.Context, summary *Summary) {
	for i := range summary.Results {
		r := &summary.Results[i]

		count, err := p.store.Count(ctx, r.Symbol)
		if err != nil {
			p.log.Warn("verification count failed", "symbol", r.Symbol, "error", err)
			continue
		}
		r.TotalRows = count

		latest, err := p.store.LatestBar(ctx, r.Symbol)
		if err != nil {
			p.log.Warn("verification latest failed", "symbol", r.Symbol, "error", err)
			continue
		}
		if latest != nil {
			r.LatestDate = latest.Date
		}
	}
}

// pause waits the inter-symbol delay, returning early on cancellation.
func (p *Pipeline) pause(ctx context.Context) {
	if p.symbolInterval <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.symbolInterval):
	}
}
