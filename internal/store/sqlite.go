package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/domain"

	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Compile-time interface check.
var _ StockStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol     TEXT    NOT NULL,
	date       INTEGER NOT NULL, -- unix seconds, midnight UTC
	ts         INTEGER NOT NULL, -- unix seconds
	open       REAL    NOT NULL,
	high       REAL    NOT NULL,
	low        REAL    NOT NULL,
	close      REAL    NOT NULL,
	adj_close  REAL    NOT NULL,
	volume     INTEGER NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_ts ON bars (symbol, ts);
`

// SQLiteStore implements StockStore backed by a SQLite database. Dates are
// stored as unix seconds so range comparisons stay integer comparisons.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", dbPath, err)
	}
	// SQLite handles one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY under concurrent handler access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LatestBar returns the most recent bar for symbol, or nil when none exists.
func (s *SQLiteStore) LatestBar(ctx context.Context, symbol string) (*domain.Bar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, date, ts, open, high, low, close, adj_close, volume
		FROM bars WHERE symbol = ? ORDER BY date DESC LIMIT 1`, symbol)

	bar, err := scanBar(row.Scan)
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
func (s *SQLiteStore) ExistsOnDate(ctx context.Context, symbol string, day time.Time) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM bars WHERE symbol = ? AND ts >= ? AND ts < ?`,
		symbol, day.Unix(), day.AddDate(0, 0, 1).Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking existing bar for %s: %w", symbol, err)
	}
	return n > 0, nil
}

// InsertBars bulk-inserts bars inside one transaction, skipping rows whose
// (symbol, date) already exists, and returns the count actually inserted.
func (s *SQLiteStore) InsertBars(ctx context.Context, bars []domain.Bar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO bars (symbol, date, ts, open, high, low, close, adj_close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing bar insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx,
			b.Symbol, b.Date.Unix(), b.Timestamp.Unix(),
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

// InsertBar inserts a single bar, returning ErrDuplicate on a primary-key
// conflict.
func (s *SQLiteStore) InsertBar(ctx context.Context, bar domain.Bar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bars (symbol, date, ts, open, high, low, close, adj_close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bar.Symbol, bar.Date.Unix(), bar.Timestamp.Unix(),
		bar.Open, bar.High, bar.Low, bar.Close, bar.AdjClose, bar.Volume)
	if err != nil {
		var serr *sqlite.Error
		if errors.As(err, &serr) {
			switch serr.Code() {
			case sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
				return ErrDuplicate
			}
		}
		return fmt.Errorf("inserting bar %s %s: %w", bar.Symbol, bar.Date.Format("2006-01-02"), err)
	}
	return nil
}

// BarsInRange returns bars for symbol with timestamps in [from, to],
// ascending.
func (s *SQLiteStore) BarsInRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, ts, open, high, low, close, adj_close, volume
		FROM bars WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		bar, err := scanBar(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning bar for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// Count returns the number of stored bars for symbol.
func (s *SQLiteStore) Count(ctx context.Context, symbol string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bars WHERE symbol = ?`, symbol).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bars for %s: %w", symbol, err)
	}
	return n, nil
}

// scanBar reads one bars row. Works for both sql.Row and sql.Rows scans.
func scanBar(scan func(dest ...any) error) (domain.Bar, error) {
	var b domain.Bar
	var date, ts int64
	if err := scan(&b.Symbol, &date, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
		return domain.Bar{}, err
	}
	b.Date = time.Unix(date, 0).UTC()
	b.Timestamp = time.Unix(ts, 0).UTC()
	return b, nil
}
