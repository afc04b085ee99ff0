package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketsync/internal/provider"
	"marketsync/internal/util"
)

var testNow = time.Date(2026, 3, 16, 14, 30, 0, 0, time.UTC)

func testToday() time.Time { return util.MidnightUTC(testNow) }

// newTestPipeline builds a pipeline with all delays zeroed and a fixed clock.
func newTestPipeline(st *fakeStore, fp *fakeProvider, maxRetries int) *Pipeline {
	p := New(st, Options{
		QuoteClient:  fp,
		SeriesClient: fp,
		MaxRetries:   maxRetries,
	})
	p.now = func() time.Time { return testNow }
	return p
}

func TestRunColdStartInsertsCurrentDayBar(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	fp.quotes["SPY"] = provider.Quote{
		Symbol: "SPY", Open: 450, High: 452, Low: 449, Price: 451, Volume: 1000000,
	}

	p := newTestPipeline(st, fp, 3)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := summary.Results[0]
	if r.Err != nil {
		t.Fatalf("symbol error: %v", r.Err)
	}
	if !r.Inserted || r.Skipped {
		t.Errorf("got inserted=%v skipped=%v, want inserted only", r.Inserted, r.Skipped)
	}
	// Empty store means no backfill, only the quote path.
	if fp.seriesCalls["SPY"] != 0 {
		t.Errorf("series called %d times on empty store, want 0", fp.seriesCalls["SPY"])
	}
	if r.TotalRows != 1 {
		t.Errorf("TotalRows = %d, want 1", r.TotalRows)
	}
	if !r.LatestDate.Equal(testToday()) {
		t.Errorf("LatestDate = %v, want %v", r.LatestDate, testToday())
	}

	bar := st.bars[barKey{"SPY", testToday()}]
	if bar.Close != 451 || bar.AdjClose != 451 {
		t.Errorf("stored close/adjClose = %v/%v, want 451/451", bar.Close, bar.AdjClose)
	}
	if bar.Open != 450 || bar.High != 452 || bar.Low != 449 || bar.Volume != 1000000 {
		t.Errorf("stored bar fields = %+v", bar)
	}
}

func TestRunIsIdempotentWithinOneDay(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	fp.quotes["SPY"] = provider.Quote{Symbol: "SPY", Open: 1, High: 2, Low: 1, Price: 2, Volume: 10}

	p := newTestPipeline(st, fp, 3)
	if _, err := p.Run(context.Background(), []string{"SPY"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	r := summary.Results[0]
	if !r.Skipped || r.Inserted {
		t.Errorf("second run got inserted=%v skipped=%v, want skip", r.Inserted, r.Skipped)
	}
	if fp.quoteCalls["SPY"] != 1 {
		t.Errorf("quote fetched %d times, want 1 (second run must not fetch)", fp.quoteCalls["SPY"])
	}
	if len(st.bars) != 1 {
		t.Errorf("store holds %d bars after two runs, want 1", len(st.bars))
	}
}

func TestRunBackfillsFiveDayGap(t *testing.T) {
	st := newFakeStore()
	st.seed("SPY", testToday().AddDate(0, 0, -5), 440)

	fp := newFakeProvider()
	fp.seriesTrimLast = true // today's close not posted yet
	fp.quotes["SPY"] = provider.Quote{Symbol: "SPY", Open: 450, High: 452, Low: 449, Price: 451, Volume: 1000000}

	p := newTestPipeline(st, fp, 3)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := summary.Results[0]
	if r.Err != nil {
		t.Fatalf("symbol error: %v", r.Err)
	}
	if r.Backfilled != 4 {
		t.Errorf("Backfilled = %d, want 4", r.Backfilled)
	}
	// Every day of the gap must be present.
	for d := -4; d <= -1; d++ {
		day := testToday().AddDate(0, 0, d)
		if _, ok := st.bars[barKey{"SPY", day}]; !ok {
			t.Errorf("missing backfilled bar for %v", day.Format("2006-01-02"))
		}
	}
	// The quote phase then fills today on top of the backfill.
	if !r.Inserted {
		t.Error("current-day bar not inserted after backfill")
	}
	if !r.LatestDate.Equal(testToday()) {
		t.Errorf("LatestDate = %v, want today", r.LatestDate)
	}
	if r.TotalRows != 6 {
		t.Errorf("TotalRows = %d, want 6", r.TotalRows)
	}
}

func TestRunGapOfOneDayNeedsNoBackfill(t *testing.T) {
	st := newFakeStore()
	st.seed("SPY", testToday().AddDate(0, 0, -1), 440)

	fp := newFakeProvider()
	fp.quotes["SPY"] = provider.Quote{Symbol: "SPY", Open: 1, High: 2, Low: 1, Price: 2, Volume: 10}

	p := newTestPipeline(st, fp, 3)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fp.seriesCalls["SPY"] != 0 {
		t.Errorf("series called %d times for a one-day gap, want 0", fp.seriesCalls["SPY"])
	}
	if got := summary.Results[0].Backfilled; got != 0 {
		t.Errorf("Backfilled = %d, want 0", got)
	}
}

func TestRunRetriesQuoteExactlyMaxRetriesPlusOne(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	fp.quoteErr["SPY"] = errors.New("upstream down")

	const maxRetries = 3
	p := newTestPipeline(st, fp, maxRetries)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := fp.quoteCalls["SPY"]; got != maxRetries+1 {
		t.Errorf("quote fetched %d times, want %d", got, maxRetries+1)
	}
	var exhausted *util.ExhaustedError
	if !errors.As(summary.Results[0].Err, &exhausted) {
		t.Fatalf("symbol error = %v, want *util.ExhaustedError", summary.Results[0].Err)
	}
	if exhausted.Attempts != maxRetries+1 {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, maxRetries+1)
	}
}

func TestRunIsolatesPerSymbolFailures(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	ok := provider.Quote{Open: 10, High: 12, Low: 9, Price: 11, Volume: 500}
	fp.quotes["AAA"] = ok
	fp.quotes["CCC"] = ok
	fp.quoteErr["BBB"] = errors.New("permanently broken")

	p := newTestPipeline(st, fp, 1)
	summary, err := p.Run(context.Background(), []string{"AAA", "BBB", "CCC"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", summary.Failed())
	}
	for _, i := range []int{0, 2} {
		r := summary.Results[i]
		if r.Err != nil || !r.Inserted {
			t.Errorf("%s: err=%v inserted=%v, want clean insert", r.Symbol, r.Err, r.Inserted)
		}
	}
	if summary.Results[1].Err == nil {
		t.Error("BBB succeeded, want error")
	}
	if summary.Inserted() != 2 {
		t.Errorf("Inserted() = %d, want 2", summary.Inserted())
	}
}

func TestRunRejectsIncompleteQuote(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	fp.quotes["SPY"] = provider.Quote{Symbol: "SPY", Open: 450, High: 452, Low: 449, Price: 451, Volume: 0}

	p := newTestPipeline(st, fp, 3)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var incomplete *IncompleteQuoteError
	if !errors.As(summary.Results[0].Err, &incomplete) {
		t.Fatalf("symbol error = %v, want *IncompleteQuoteError", summary.Results[0].Err)
	}
	// The fetch itself succeeded, so the retry policy must not kick in.
	if fp.quoteCalls["SPY"] != 1 {
		t.Errorf("quote fetched %d times, want 1", fp.quoteCalls["SPY"])
	}
	if len(st.bars) != 0 {
		t.Errorf("store holds %d bars, want 0", len(st.bars))
	}
}

func TestRunFailsFastWhenStoreUnreachable(t *testing.T) {
	st := newFakeStore()
	st.pingErr = errors.New("connection refused")
	fp := newFakeProvider()

	p := newTestPipeline(st, fp, 3)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err == nil {
		t.Fatal("Run succeeded with unreachable store")
	}
	if summary != nil {
		t.Errorf("summary = %+v, want nil", summary)
	}
	if fp.quoteCalls["SPY"] != 0 || fp.seriesCalls["SPY"] != 0 {
		t.Error("provider called despite unreachable store")
	}
}

func TestRunMarksAllSymbolsOnCancelledContext(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(st, fp, 3)
	summary, err := p.Run(ctx, []string{"SPY", "QQQ"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, r := range summary.Results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: err = %v, want context.Canceled", r.Symbol, r.Err)
		}
	}
	if len(fp.quoteCalls) != 0 || len(fp.seriesCalls) != 0 {
		t.Error("provider called after cancellation")
	}
}

func TestRunHistoricalLoadsAndDeduplicates(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	start := testToday().AddDate(0, 0, -10)

	p := newTestPipeline(st, fp, 3)
	summary, err := p.RunHistorical(context.Background(), []string{"SPY"}, start)
	if err != nil {
		t.Fatalf("RunHistorical: %v", err)
	}
	if summary.Mode != ModeHistorical {
		t.Errorf("Mode = %q, want %q", summary.Mode, ModeHistorical)
	}
	if got := summary.Results[0].Backfilled; got != 11 {
		t.Errorf("Backfilled = %d, want 11 (closed interval)", got)
	}

	// Re-running the same span inserts nothing new.
	again, err := p.RunHistorical(context.Background(), []string{"SPY"}, start)
	if err != nil {
		t.Fatalf("second RunHistorical: %v", err)
	}
	if got := again.Results[0].Backfilled; got != 0 {
		t.Errorf("second load Backfilled = %d, want 0", got)
	}
	if len(st.bars) != 11 {
		t.Errorf("store holds %d bars, want 11", len(st.bars))
	}
}

func TestRunDeduplicatesOverlappingBackfill(t *testing.T) {
	st := newFakeStore()
	fp := newFakeProvider()
	start := testToday().AddDate(0, 0, -10)

	p := newTestPipeline(st, fp, 3)
	if _, err := p.RunHistorical(context.Background(), []string{"SPY"}, start); err != nil {
		t.Fatalf("RunHistorical: %v", err)
	}

	// A daily run right after the historical load finds no gap and today's
	// bar already stored; nothing is written twice.
	fp.quotes["SPY"] = provider.Quote{Symbol: "SPY", Open: 1, High: 2, Low: 1, Price: 2, Volume: 10}
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := summary.Results[0]
	if r.Backfilled != 0 || !r.Skipped {
		t.Errorf("got backfilled=%d skipped=%v, want 0/true", r.Backfilled, r.Skipped)
	}
	if len(st.bars) != 11 {
		t.Errorf("store holds %d bars, want 11", len(st.bars))
	}
}

func TestRunSeriesFailureStillAttemptsCurrentDay(t *testing.T) {
	st := newFakeStore()
	st.seed("SPY", testToday().AddDate(0, 0, -5), 440)

	fp := newFakeProvider()
	fp.seriesErr["SPY"] = errors.New("series endpoint down")
	fp.quotes["SPY"] = provider.Quote{Symbol: "SPY", Open: 450, High: 452, Low: 449, Price: 451, Volume: 1000000}

	p := newTestPipeline(st, fp, 1)
	summary, err := p.Run(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := summary.Results[0]
	if r.Backfilled != 0 {
		t.Errorf("Backfilled = %d, want 0", r.Backfilled)
	}
	// A failed backfill does not poison the quote phase.
	if r.Err != nil {
		t.Errorf("symbol error = %v, want nil", r.Err)
	}
	if !r.Inserted {
		t.Error("current-day bar not inserted after backfill failure")
	}
}

func TestSharedRateLimiterWhenProvidersMatch(t *testing.T) {
	fp := newFakeProvider()
	p := New(newFakeStore(), Options{QuoteClient: fp, SeriesClient: fp})
	if p.quoteLimiter != p.seriesLimiter {
		t.Error("same provider name must share one rate limiter")
	}

	other := newFakeProvider()
	other.name = "other"
	p = New(newFakeStore(), Options{QuoteClient: fp, SeriesClient: other})
	if p.quoteLimiter == p.seriesLimiter {
		t.Error("distinct providers must not share a rate limiter")
	}
}
