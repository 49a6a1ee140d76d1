package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"emafutures/internal/model"
)

// Journal persists every decision to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB

	// OnRecord is called with the insert latency of every recorded decision.
	OnRecord func(took time.Duration)
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		action      TEXT NOT NULL,
		size        REAL NOT NULL,
		leverage    REAL NOT NULL,
		stop_price  REAL NOT NULL,
		price       REAL NOT NULL,
		trend       TEXT NOT NULL,
		reason      TEXT,
		payload     TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol, seq);
	CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened decision journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists a decision.
func (j *Journal) Record(ctx context.Context, d model.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO decisions (id, symbol, action, size, leverage, stop_price, price, trend, reason, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Symbol,
		string(d.Action),
		d.Size,
		d.Leverage,
		d.StopPrice,
		d.Price,
		string(d.Trend),
		d.Reason,
		string(d.JSON()),
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal record %s: %w", d.ID, err)
	}
	if j.OnRecord != nil {
		j.OnRecord(time.Since(start))
	}
	return nil
}

// PublishDecision records the decision, so the journal can sit in the
// runner's publisher fan-out.
func (j *Journal) PublishDecision(ctx context.Context, d model.Decision) error {
	return j.Record(ctx, d)
}

// Recent returns the last limit decisions for symbol, newest first.
// An empty symbol matches all symbols.
func (j *Journal) Recent(ctx context.Context, symbol string, limit int) ([]model.Decision, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT payload FROM decisions WHERE (? = '' OR symbol = ?) ORDER BY seq DESC LIMIT ?`,
		symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Decision, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var d model.Decision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountByAction returns how many decisions of each action were journalled.
func (j *Journal) CountByAction(ctx context.Context, symbol string) (map[model.Action]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM decisions WHERE (? = '' OR symbol = ?) GROUP BY action`,
		symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("journal count: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Action]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		out[model.Action(action)] = n
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
