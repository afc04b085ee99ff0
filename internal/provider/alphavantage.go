package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// Compile-time interface check.
var _ Client = (*AlphaVantageClient)(nil)

// AlphaVantageClient fetches quotes and daily series from the Alpha Vantage
// REST API. The free tier allows 5 calls per minute, so this provider is
// normally configured with a large request interval.
type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAlphaVantageClient creates an AlphaVantageClient with the configured
// credentials and base URL.
func NewAlphaVantageClient(cfg config.AlphaVantageConfig) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider identifier.
func (c *AlphaVantageClient) Name() string { return "alphavantage" }

// avEnvelope captures the error and throttle fields Alpha Vantage mixes into
// every response body alongside the payload.
type avEnvelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (c *AlphaVantageClient) get(ctx context.Context, symbol string, params url.Values, out any) error {
	params.Set("apikey", c.apiKey)
	u := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return newError("alphavantage", symbol, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError("alphavantage", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError("alphavantage", symbol, fmt.Errorf("API returned %s", resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError("alphavantage", symbol, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func (c *AlphaVantageClient) checkEnvelope(symbol string, env avEnvelope) error {
	if env.ErrorMessage != "" {
		return newError("alphavantage", symbol, fmt.Errorf("API error: %s", env.ErrorMessage))
	}
	if env.Note != "" {
		return newError("alphavantage", symbol, fmt.Errorf("API throttled: %s", env.Note))
	}
	if env.Information != "" {
		return newError("alphavantage", symbol, fmt.Errorf("API notice: %s", env.Information))
	}
	return nil
}

// FetchQuote fetches the current session's quote via GLOBAL_QUOTE.
func (c *AlphaVantageClient) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var out struct {
		avEnvelope
		GlobalQuote struct {
			Open   string `json:"02. open"`
			High   string `json:"03. high"`
			Low    string `json:"04. low"`
			Price  string `json:"05. price"`
			Volume string `json:"06. volume"`
		} `json:"Global Quote"`
	}
	if err := c.get(ctx, symbol, params, &out); err != nil {
		return Quote{}, err
	}
	if err := c.checkEnvelope(symbol, out.avEnvelope); err != nil {
		return Quote{}, err
	}

	g := out.GlobalQuote
	if g.Price == "" {
		return Quote{}, newError("alphavantage", symbol, fmt.Errorf("quote response has no usable price"))
	}

	price, err := strconv.ParseFloat(g.Price, 64)
	if err != nil {
		return Quote{}, newError("alphavantage", symbol, fmt.Errorf("parsing price %q: %w", g.Price, err))
	}

	q := Quote{Symbol: symbol, Price: price}
	q.Open, _ = strconv.ParseFloat(g.Open, 64)
	q.High, _ = strconv.ParseFloat(g.High, 64)
	q.Low, _ = strconv.ParseFloat(g.Low, 64)
	q.Volume, _ = strconv.ParseInt(g.Volume, 10, 64)
	return q, nil
}

// FetchDailySeries fetches daily bars via TIME_SERIES_DAILY and filters to
// the closed interval [from, to]. Compact output covers the trailing 100
// trading days; anything older needs the full series.
func (c *AlphaVantageClient) FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	outputSize := "compact"
	if util.DaysBetween(from, time.Now().UTC()) > 100 {
		outputSize = "full"
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("outputsize", outputSize)

	var out struct {
		avEnvelope
		TimeSeries map[string]struct {
			Open   string `json:"1. open"`
			High   string `json:"2. high"`
			Low    string `json:"3. low"`
			Close  string `json:"4. close"`
			Volume string `json:"5. volume"`
		} `json:"Time Series (Daily)"`
	}
	if err := c.get(ctx, symbol, params, &out); err != nil {
		return nil, err
	}
	if err := c.checkEnvelope(symbol, out.avEnvelope); err != nil {
		return nil, err
	}
	if out.TimeSeries == nil {
		return nil, newError("alphavantage", symbol, fmt.Errorf("response has no daily time series"))
	}

	fromDay := util.MidnightUTC(from)
	toDay := util.MidnightUTC(to)

	var bars []domain.Bar
	for dateStr, row := range out.TimeSeries {
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if day.Before(fromDay) || day.After(toDay) {
			continue
		}

		closePrice, err := strconv.ParseFloat(row.Close, 64)
		if err != nil {
			continue // no usable close, drop the day
		}

		bar := domain.Bar{
			Symbol:    symbol,
			Date:      day,
			Timestamp: day,
			Close:     closePrice,
			AdjClose:  closePrice,
		}
		bar.Open, _ = strconv.ParseFloat(row.Open, 64)
		bar.High, _ = strconv.ParseFloat(row.High, 64)
		bar.Low, _ = strconv.ParseFloat(row.Low, 64)
		bar.Volume, _ = strconv.ParseInt(row.Volume, 10, 64)
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
