package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"marketsync/internal/domain"
)

// Compile-time interface check.
var _ StockStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol     TEXT             NOT NULL,
	date       TIMESTAMPTZ      NOT NULL,
	ts         TIMESTAMPTZ      NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	adj_close  DOUBLE PRECISION NOT NULL,
	volume     BIGINT           NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_ts ON bars (symbol, ts);
`

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint conflict.
const uniqueViolation = "23505"

// PostgresStore implements StockStore backed by PostgreSQL via the pgx
// database/sql driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database at connStr, applies the schema,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres connection string is empty")
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// LatestBar returns the most recent bar for symbol, or nil when none exists.
func (s *PostgresStore) LatestBar(ctx context.Context, symbol string) (*domain.Bar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, date, ts, open, high, low, close, adj_close, volume
		FROM bars WHERE symbol = $1 ORDER BY date DESC LIMIT 1`, symbol)

	bar, err := scanPgBar(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest bar for %s: %w", symbol, err)
	}
	return &bar, nil
}

// ExistsOnDate reports whether a bar exists for symbol on the given day,
// using a half-open [day, day+24h) match on the timestamp column.
func (s *PostgresStore) ExistsOnDate(ctx context.Context, symbol string, day time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM bars WHERE symbol = $1 AND ts >= $2 AND ts < $3)`,
		symbol, day, day.AddDate(0, 0, 1)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking existing bar for %s: %w", symbol, err)
	}
	return exists, nil
}

// InsertBars bulk-inserts bars inside one transaction with
// ON CONFLICT DO NOTHING, and returns the count actually inserted.
func (s *PostgresStore) InsertBars(ctx context.Context, bars []domain.Bar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, date, ts, open, high, low, close, adj_close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing bar insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx,
			b.Symbol, b.Date, b.Timestamp,
			b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting bar %s %s: %w", b.Symbol, b.Date.Format("2006-01-02"), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing bar insert: %w", err)
	}
	return inserted, nil
}

// InsertBar inserts a single bar, returning ErrDuplicate on a unique
// violation.
func (s *PostgresStore) InsertBar(ctx context.Context, bar domain.Bar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bars (symbol, date, ts, open, high, low, close, adj_close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		bar.Symbol, bar.Date, bar.Timestamp,
		bar.Open, bar.High, bar.Low, bar.Close, bar.AdjClose, bar.Volume)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting bar %s %s: %w", bar.Symbol, bar.Date.Format("2006-01-02"), err)
	}
	return nil
}

// BarsInRange returns bars for symbol with timestamps in [from, to],
// ascending.
func (s *PostgresStore) BarsInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, ts, open, high, low, close, adj_close, volume
		FROM bars WHERE symbol = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts ASC`,
		symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		bar, err := scanPgBar(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning bar for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// Count returns the number of stored bars for symbol.
func (s *PostgresStore) Count(ctx context.Context, symbol string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bars WHERE symbol = $1`, symbol).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bars for %s: %w", symbol, err)
	}
	return n, nil
}

// scanPgBar reads one bars row with native timestamp columns.
func scanPgBar(scan func(dest ...any) error) (domain.Bar, error) {
	var b domain.Bar
	if err := scan(&b.Symbol, &b.Date, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
		return domain.Bar{}, err
	}
	b.Date = b.Date.UTC()
	b.Timestamp = b.Timestamp.UTC()
	return b, nil
}
