package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// Compile-time interface check.
var _ Client = (*AlpacaClient)(nil)

// AlpacaClient fetches quotes and daily series via the Alpaca market-data
// SDK. The SDK manages its own HTTP transport and pagination; this adapter
// only maps its types onto the shared contract.
type AlpacaClient struct {
	client *marketdata.Client
}

// NewAlpacaClient creates an AlpacaClient configured with the given Alpaca
// credentials and data endpoint.
func NewAlpacaClient(cfg config.AlpacaConfig) *AlpacaClient {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return &AlpacaClient{client: marketdata.NewClient(opts)}
}

// Name returns the provider identifier.
func (c *AlpacaClient) Name() string { return "alpaca" }

// FetchQuote fetches the current session's daily bar from the symbol
// snapshot. SDK calls are not context-aware, so cancellation is only
// observed before the call.
func (c *AlpacaClient) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	snapshot, err := c.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return Quote{}, newError("alpaca", symbol, fmt.Errorf("GetSnapshot: %w", err))
	}
	if snapshot == nil || snapshot.DailyBar == nil {
		return Quote{}, newError("alpaca", symbol, fmt.Errorf("snapshot has no daily bar"))
	}

	db := snapshot.DailyBar
	if db.Close == 0 {
		return Quote{}, newError("alpaca", symbol, fmt.Errorf("quote response has no usable price"))
	}

	return Quote{
		Symbol: symbol,
		Open:   db.Open,
		High:   db.High,
		Low:    db.Low,
		Price:  db.Close,
		Volume: int64(db.Volume),
	}, nil
}

// FetchDailySeries fetches daily bars for the closed interval [from, to].
func (c *AlpacaClient) FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	alpacaBars, err := c.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     from,
		End:       to,
	})
	if err != nil {
		return nil, newError("alpaca", symbol, fmt.Errorf("GetBars: %w", err))
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		if ab.Close == 0 {
			continue
		}
		day := util.MidnightUTC(ab.Timestamp)
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Date:      day,
			Timestamp: day,
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			AdjClose:  ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	return bars, nil
}
