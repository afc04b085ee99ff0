package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// Compile-time interface check.
var _ Client = (*YahooClient)(nil)

// YahooClient fetches quotes and daily series from the Yahoo Finance chart
// API. No credentials are required.
type YahooClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewYahooClient creates a YahooClient against the configured base URL.
func NewYahooClient(cfg config.YahooConfig) *YahooClient {
	return &YahooClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider identifier.
func (c *YahooClient) Name() string { return "yahoo" }

// ---------------------------------------------------------------------------
// Chart API response (shared by quote and series fetches)
// ---------------------------------------------------------------------------

// chartResponse mirrors the /v8/finance/chart JSON schema. Numeric series
// entries are pointers because Yahoo emits null for halted or missing days.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string  `json:"symbol"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  int64   `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *YahooClient) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError("yahoo", symbol, err)
	}
	req.Header.Set("User-Agent", "marketsync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError("yahoo", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError("yahoo", symbol, fmt.Errorf("chart API returned %s", resp.Status))
	}

	var out chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newError("yahoo", symbol, fmt.Errorf("decoding chart response: %w", err))
	}
	if out.Chart.Error != nil {
		return nil, newError("yahoo", symbol, fmt.Errorf("chart API error %s: %s", out.Chart.Error.Code, out.Chart.Error.Description))
	}
	if len(out.Chart.Result) == 0 {
		return nil, newError("yahoo", symbol, fmt.Errorf("chart API returned no result"))
	}
	return &out, nil
}

// FetchQuote fetches the current session's quote from a one-day chart. The
// session open comes from the day's indicator row; price, high, low, and
// volume prefer the regular-market meta fields which update intraday.
func (c *YahooClient) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	out, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return Quote{}, err
	}

	result := out.Chart.Result[0]
	q := Quote{
		Symbol: symbol,
		Price:  result.Meta.RegularMarketPrice,
		High:   result.Meta.RegularMarketDayHigh,
		Low:    result.Meta.RegularMarketDayLow,
		Volume: result.Meta.RegularMarketVolume,
	}

	if len(result.Indicators.Quote) > 0 {
		ind := result.Indicators.Quote[0]
		last := len(result.Timestamp) - 1
		if last >= 0 && last < len(ind.Open) && ind.Open[last] != nil {
			q.Open = *ind.Open[last]
		}
		// Meta fields are absent on some index symbols; fall back to the row.
		if q.High == 0 && last >= 0 && last < len(ind.High) && ind.High[last] != nil {
			q.High = *ind.High[last]
		}
		if q.Low == 0 && last >= 0 && last < len(ind.Low) && ind.Low[last] != nil {
			q.Low = *ind.Low[last]
		}
		if q.Price == 0 && last >= 0 && last < len(ind.Close) && ind.Close[last] != nil {
			q.Price = *ind.Close[last]
		}
		if q.Volume == 0 && last >= 0 && last < len(ind.Volume) && ind.Volume[last] != nil {
			q.Volume = *ind.Volume[last]
		}
	}

	if q.Price == 0 {
		return Quote{}, newError("yahoo", symbol, fmt.Errorf("quote response has no usable price"))
	}
	return q, nil
}

// FetchDailySeries fetches daily bars for the closed interval [from, to].
// Yahoo's period2 is exclusive, so it is shifted by one day.
func (c *YahooClient) FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", fmt.Sprintf("%d", from.Unix()))
	params.Set("period2", fmt.Sprintf("%d", to.AddDate(0, 0, 1).Unix()))

	out, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	result := out.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	ind := result.Indicators.Quote[0]

	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	var bars []domain.Bar
	for i, ts := range result.Timestamp {
		if i >= len(ind.Close) || ind.Close[i] == nil {
			continue // halted or missing day
		}

		day := util.MidnightUTC(time.Unix(ts, 0))
		bar := domain.Bar{
			Symbol:    symbol,
			Date:      day,
			Timestamp: day,
			Close:     *ind.Close[i],
			AdjClose:  *ind.Close[i],
		}
		if i < len(ind.Open) && ind.Open[i] != nil {
			bar.Open = *ind.Open[i]
		}
		if i < len(ind.High) && ind.High[i] != nil {
			bar.High = *ind.High[i]
		}
		if i < len(ind.Low) && ind.Low[i] != nil {
			bar.Low = *ind.Low[i]
		}
		if i < len(ind.Volume) && ind.Volume[i] != nil {
			bar.Volume = *ind.Volume[i]
		}
		if i < len(adj) && adj[i] != nil {
			bar.AdjClose = *adj[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
