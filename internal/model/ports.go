package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the runner and gateway from the concrete stores
// (SQLite, Redis). Each implementation satisfies one or more of them.

// CandleReader reads closed candles for one instrument and timeframe.
type CandleReader interface {
	// ReadCandles returns the latest limit candles, oldest first.
	ReadCandles(ctx context.Context, symbol string, tf int, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists closed candles.
type CandleWriter interface {
	// WriteCandles upserts a batch of candles in one transaction.
	WriteCandles(ctx context.Context, symbol string, tf int, candles []Candle) error

	// Close releases underlying resources.
	Close() error
}

// DecisionPublisher fans a decision out to a downstream consumer
// (Redis stream, WebSocket hub, journal).
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d Decision) error
}

// LatestDecisionReader returns the most recent decision for a symbol.
// Returns nil, nil when none has been stored yet.
type LatestDecisionReader interface {
	LatestDecision(ctx context.Context, symbol string) (*Decision, error)
}
