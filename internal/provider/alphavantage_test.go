package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketsync/internal/config"
)

func newAVTestClient(t *testing.T, handler http.HandlerFunc) *AlphaVantageClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAlphaVantageClient(config.AlphaVantageConfig{APIKey: "test-key", BaseURL: srv.URL})
}

func TestAlphaVantageFetchQuote(t *testing.T) {
	c := newAVTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") != "GLOBAL_QUOTE" {
			t.Errorf("function = %q", r.URL.Query().Get("function"))
		}
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Error("apikey not forwarded")
		}
		w.Write([]byte(`{
		  "Global Quote": {
		    "01. symbol": "SPY",
		    "02. open": "450.0000",
		    "03. high": "452.0000",
		    "04. low": "449.0000",
		    "05. price": "451.0000",
		    "06. volume": "1000000"
		  }
		}`))
	})

	q, err := c.FetchQuote(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("FetchQuote returned error: %v", err)
	}
	if q.Open != 450 || q.High != 452 || q.Low != 449 || q.Price != 451 || q.Volume != 1000000 {
		t.Errorf("quote = %+v", q)
	}
}

func TestAlphaVantageThrottleNote(t *testing.T) {
	c := newAVTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	_, err := c.FetchQuote(context.Background(), "SPY")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *provider.Error", err)
	}
	if perr.Provider != "alphavantage" {
		t.Errorf("Provider = %q", perr.Provider)
	}
}

func TestAlphaVantageUnknownSymbol(t *testing.T) {
	c := newAVTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})

	if _, err := c.FetchQuote(context.Background(), "NOPE"); err == nil {
		t.Fatal("FetchQuote should fail on API error message")
	}
}

func TestAlphaVantageFetchDailySeries(t *testing.T) {
	c := newAVTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") != "TIME_SERIES_DAILY" {
			t.Errorf("function = %q", r.URL.Query().Get("function"))
		}
		if r.URL.Query().Get("outputsize") != "compact" {
			t.Errorf("outputsize = %q, want compact for a small window", r.URL.Query().Get("outputsize"))
		}
		w.Write([]byte(`{
		  "Time Series (Daily)": {
		    "2024-06-10": {"1. open": "443.0", "2. high": "445.0", "3. low": "442.0", "4. close": "444.0", "5. volume": "800000"},
		    "2024-06-11": {"1. open": "444.0", "2. high": "446.5", "3. low": "443.0", "4. close": "446.0", "5. volume": "900000"},
		    "2024-06-12": {"1. open": "446.0", "2. high": "448.0", "3. low": "445.0", "4. close": "447.5", "5. volume": "950000"},
		    "2024-06-14": {"1. open": "448.0", "2. high": "450.0", "3. low": "447.0", "4. close": "449.0", "5. volume": "970000"}
		  }
		}`))
	})

	// Window excludes 2024-06-10 (before) and 2024-06-14 (after).
	from := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchDailySeries(context.Background(), "SPY", from, to)
	if err != nil {
		t.Fatalf("FetchDailySeries returned error: %v", err)
	}

	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if !bars[0].Date.Equal(from) {
		t.Errorf("first bar date = %v, want %v", bars[0].Date, from)
	}
	if bars[1].Close != 447.5 {
		t.Errorf("second close = %v, want 447.5", bars[1].Close)
	}
	if bars[0].AdjClose != bars[0].Close {
		t.Errorf("adjClose should default to close, got %v vs %v", bars[0].AdjClose, bars[0].Close)
	}
}

func TestProviderFactory(t *testing.T) {
	cfg := config.ProvidersConfig{
		Yahoo:        config.YahooConfig{BaseURL: "http://localhost", RequestIntervalSecs: 3},
		AlphaVantage: config.AlphaVantageConfig{BaseURL: "http://localhost", RequestIntervalSecs: 15},
		Alpaca:       config.AlpacaConfig{RequestIntervalSecs: 1},
	}

	for _, name := range []string{"yahoo", "alphavantage", "alpaca"} {
		c, err := New(name, cfg)
		if err != nil {
			t.Fatalf("New(%q) returned error: %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("Name() = %q, want %q", c.Name(), name)
		}
	}

	if _, err := New("bloomberg", cfg); err == nil {
		t.Error("New should reject unknown provider names")
	}

	if got := RequestInterval("alphavantage", cfg); got != 15*time.Second {
		t.Errorf("RequestInterval(alphavantage) = %v, want 15s", got)
	}
}
