// Package store defines the persistence boundary for daily bars and its
// SQLite and Postgres implementations. The pipeline is the sole writer;
// charting and reporting are read-only collaborators.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/domain"
)

// ErrDuplicate is returned by InsertBar when a bar for the same
// (symbol, date) already exists. InsertBars never returns it; duplicate rows
// are silently skipped there.
var ErrDuplicate = errors.New("store: duplicate bar")

// StockStore is the persistence contract required by the ingestion pipeline,
// regardless of backing engine. Implementations must enforce uniqueness on
// (symbol, date).
type StockStore interface {
	// Ping verifies the store is reachable. The pipeline fails fast when
	// this errors at run start.
	Ping(ctx context.Context) error

	// LatestBar returns the most recent bar for symbol by date, or nil when
	// the symbol has no rows.
	LatestBar(ctx context.Context, symbol string) (*domain.Bar, error)

	// ExistsOnDate reports whether a bar exists for symbol within the
	// half-open day [day, day+24h) matched on timestamp.
	ExistsOnDate(ctx context.Context, symbol string, day time.Time) (bool, error)

	// InsertBars bulk-inserts bars, silently skipping rows that collide with
	// an existing (symbol, date), and returns the count actually inserted.
	InsertBars(ctx context.Context, bars []domain.Bar) (int64, error)

	// InsertBar inserts a single bar and returns ErrDuplicate on a
	// (symbol, date) conflict.
	InsertBar(ctx context.Context, bar domain.Bar) error

	// BarsInRange returns bars for symbol with timestamps in [from, to],
	// ordered ascending.
	BarsInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error)

	// Count returns the number of stored bars for symbol.
	Count(ctx context.Context, symbol string) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// Open creates the configured store backend.
func Open(cfg config.Storage) (StockStore, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
