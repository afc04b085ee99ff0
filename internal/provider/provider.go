// Package provider contains adapters over external market-data APIs. Each
// adapter exposes the same contract — a current-session quote and a daily
// historical series — so implementations are interchangeable and selected by
// configuration. Adapters perform the network call and schema mapping only;
// retries, rate limiting, and persistence are layered on by callers.
package provider

import (
	"context"
	"fmt"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/domain"
)

// Quote holds the current trading session's OHLCV values for one symbol.
// Price is the latest traded price and becomes the bar's close.
type Quote struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Price  float64
	Volume int64
}

// Client is the adapter contract over a single upstream market-data API.
type Client interface {
	// Name returns the provider identifier ("yahoo", "alphavantage", "alpaca").
	Name() string

	// FetchQuote returns the current session's quote for symbol. It fails
	// with *Error if the symbol is unknown, the response lacks a usable
	// price, or the network call fails.
	FetchQuote(ctx context.Context, symbol string) (Quote, error)

	// FetchDailySeries returns daily bars for the closed interval [from, to],
	// ordered ascending by date. Entries without a close are filtered out.
	FetchDailySeries(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error)
}

// Error is an upstream provider failure: network trouble, a malformed
// response, or an unknown symbol.
type Error struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(provider, symbol string, err error) *Error {
	return &Error{Provider: provider, Symbol: symbol, Err: err}
}

// New creates the named provider client from configuration.
func New(name string, cfg config.ProvidersConfig) (Client, error) {
	switch name {
	case "yahoo":
		return NewYahooClient(cfg.Yahoo), nil
	case "alphavantage":
		return NewAlphaVantageClient(cfg.AlphaVantage), nil
	case "alpaca":
		return NewAlpacaClient(cfg.Alpaca), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// RequestInterval returns the configured minimum spacing between calls to
// the named provider. Unknown names get a conservative default.
func RequestInterval(name string, cfg config.ProvidersConfig) time.Duration {
	switch name {
	case "yahoo":
		return cfg.Yahoo.RequestInterval()
	case "alphavantage":
		return cfg.AlphaVantage.RequestInterval()
	case "alpaca":
		return cfg.Alpaca.RequestInterval()
	default:
		return 3 * time.Second
	}
}
