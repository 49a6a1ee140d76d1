package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"emafutures/internal/model"
)

// Reader provides read access to stored candles.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created
// if the database is new so a reader can start before any writer.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles returns the latest limit candles, oldest first.
func (r *Reader) ReadCandles(ctx context.Context, symbol string, tf int, limit int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = ? AND tf = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	return scanCandles(rows)
}

// ReadRange returns candles with fromTS <= ts < toTS, oldest first.
// toTS <= 0 means no upper bound.
func (r *Reader) ReadRange(ctx context.Context, symbol string, tf int, fromTS, toTS int64) ([]model.Candle, error) {
	if toTS <= 0 {
		toTS = 1<<63 - 1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, tf, fromTS, toTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candle range: %w", err)
	}
	return scanCandles(rows)
}

// Count returns how many candles are stored for a symbol and timeframe.
func (r *Reader) Count(ctx context.Context, symbol string, tf int) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND tf = ?`, symbol, tf,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count candles: %w", err)
	}
	return n, nil
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
