package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/provider"
	"marketsync/internal/store"
)

// ---------------------------------------------------------------------------
// In-memory store fake
// ---------------------------------------------------------------------------

var _ store.StockStore = (*fakeStore)(nil)

type barKey struct {
	symbol string
	date   time.Time
}

type fakeStore struct {
	bars    map[barKey]domain.Bar
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{bars: make(map[barKey]domain.Bar)}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) LatestBar(_ context.Context, symbol string) (*domain.Bar, error) {
	var latest *domain.Bar
	for k, b := range f.bars {
		if k.symbol != symbol {
			continue
		}
		if latest == nil || b.Date.After(latest.Date) {
			bb := b
			latest = &bb
		}
	}
	return latest, nil
}

func (f *fakeStore) ExistsOnDate(_ context.Context, symbol string, day time.Time) (bool, error) {
	_, ok := f.bars[barKey{symbol, day}]
	return ok, nil
}

func (f *fakeStore) InsertBars(_ context.Context, bars []domain.Bar) (int64, error) {
	var inserted int64
	for _, b := range bars {
		k := barKey{b.Symbol, b.Date}
		if _, ok := f.bars[k]; ok {
			continue
		}
		f.bars[k] = b
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) InsertBar(_ context.Context, bar domain.Bar) error {
	k := barKey{bar.Symbol, bar.Date}
	if _, ok := f.bars[k]; ok {
		return store.ErrDuplicate
	}
	f.bars[k] = bar
	return nil
}

func (f *fakeStore) BarsInRange(_ context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for k, b := range f.bars {
		if k.symbol == symbol && !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeStore) Count(_ context.Context, symbol string) (int64, error) {
	var n int64
	for k := range f.bars {
		if k.symbol == symbol {
			n++
		}
	}
	return n, nil
}

// seed inserts a bar directly, bypassing the pipeline.
func (f *fakeStore) seed(symbol string, day time.Time, close float64) {
	f.bars[barKey{symbol, day}] = domain.Bar{
		Symbol: symbol, Date: day, Timestamp: day,
		Open: close - 1, High: close + 1, Low: close - 2,
		Close: close, AdjClose: close, Volume: 1000,
	}
}

// ---------------------------------------------------------------------------
// Provider fake
// ---------------------------------------------------------------------------

var _ provider.Client = (*fakeProvider)(nil)

type fakeProvider struct {
	name string

	quotes    map[string]provider.Quote
	quoteErr  map[string]error // per-symbol forced quote failure
	seriesErr map[string]error // per-symbol forced series failure

	// series returns one bar per day in the requested window.
	seriesClose float64
	// when set, the window's final day has no bar yet (close not posted).
	seriesTrimLast bool

	quoteCalls  map[string]int
	seriesCalls map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		name:        "fake",
		quotes:      make(map[string]provider.Quote),
		quoteErr:    make(map[string]error),
		seriesErr:   make(map[string]error),
		seriesClose: 100,
		quoteCalls:  make(map[string]int),
		seriesCalls: make(map[string]int),
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchQuote(_ context.Context, symbol string) (provider.Quote, error) {
	f.quoteCalls[symbol]++
	if err := f.quoteErr[symbol]; err != nil {
		return provider.Quote{}, err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return provider.Quote{}, fmt.Errorf("fake: no quote configured for %s", symbol)
	}
	return q, nil
}

func (f *fakeProvider) FetchDailySeries(_ context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	f.seriesCalls[symbol]++
	if err := f.seriesErr[symbol]; err != nil {
		return nil, err
	}

	if f.seriesTrimLast {
		to = to.AddDate(0, 0, -1)
	}
	var bars []domain.Bar
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		c := f.seriesClose
		bars = append(bars, domain.Bar{
			Symbol: symbol, Date: d, Timestamp: d,
			Open: c - 1, High: c + 1, Low: c - 2,
			Close: c, AdjClose: c, Volume: 1000,
		})
	}
	return bars, nil
}
