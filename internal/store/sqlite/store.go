// Package sqlite implements the candle time-series store on SQLite.
// Rows are keyed by bucket start time; writes are idempotent upserts so
// backfill replays and reconnect races are safe.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/coingry/Indicator-dashboard/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// PageSize is the maximum number of rows returned per Query page.
const PageSize = 1000

// Store provides upsert and ordered range reads over the candle series.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the candle database with WAL mode and
// a single-writer connection pool.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			bucket_start INTEGER NOT NULL PRIMARY KEY,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			created_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Upsert writes the given candles, replacing any existing row with the same
// bucket start. All rows go in a single transaction.
func (s *Store) Upsert(ctx context.Context, rows []model.Candle) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (bucket_start, open, high, low, close)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range rows {
		if _, err := stmt.ExecContext(ctx, c.BucketStart, c.Open, c.High, c.Low, c.Close); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert bucket %d: %w", c.BucketStart, err)
		}
	}

	return tx.Commit()
}

// Query returns up to limit candles with from <= bucket_start <= to, ascending.
// A non-zero after acts as a page cursor: only rows strictly newer than it
// are returned. Limits above PageSize are clamped.
func (s *Store) Query(ctx context.Context, from, to, after int64, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	lower := from
	// after == 0 is the no-cursor sentinel; a real cursor only narrows the
	// window, it never widens it.
	if after != 0 && after >= lower {
		lower = after + 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket_start, open, high, low, close
		FROM candles
		WHERE bucket_start >= ? AND bucket_start <= ?
		ORDER BY bucket_start ASC
		LIMIT ?
	`, lower, to, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueryRange reads the full [from, to] range by paging through Query until a
// short page is returned.
func (s *Store) QueryRange(ctx context.Context, from, to int64) ([]model.Candle, error) {
	var all []model.Candle
	var after int64

	for {
		page, err := s.Query(ctx, from, to, after, PageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < PageSize {
			break
		}
		after = page[len(page)-1].BucketStart
	}

	return all, nil
}

// LastBucketStart returns the most recent stored bucket start, or 0 when the
// series is empty.
func (s *Store) LastBucketStart(ctx context.Context) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(bucket_start) FROM candles`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("sqlite last bucket: %w", err)
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// LastCloses returns the closes of the n most recent candles, ascending by
// bucket start. Used by the open-interest flow endpoint for the price delta.
func (s *Store) LastCloses(ctx context.Context, n int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket_start, open, high, low, close
		FROM candles
		ORDER BY bucket_start DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite last closes: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into ascending order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
