// Package strategy implements the dual-EMA trend and crossover entry rules.
//
// The higher timeframe decides direction (EMA15 vs EMA60), the lower
// timeframe supplies entries on a freshly completed cross that closes out an
// opposite zone. Both functions are stateless: every call recomputes from the
// candles it is handed.
package strategy

import "emafutures/internal/model"

const (
	// FastPeriod and SlowPeriod are the EMA lengths used on both timeframes.
	FastPeriod = 15
	SlowPeriod = 60

	// MinCandles is the minimum series length for a trend or entry verdict.
	MinCandles = 100
)

// TrendVerdict is the higher-timeframe classification for one evaluation.
type TrendVerdict struct {
	Direction   model.Direction `json:"direction"`
	TS          int64           `json:"ts"` // timestamp of the candle it was read from
	Description string          `json:"description"`
	FastEMA     float64         `json:"fast_ema"`
	SlowEMA     float64         `json:"slow_ema"`
}

// EntrySignal is the lower-timeframe entry verdict for one candle set.
type EntrySignal struct {
	Triggered      bool       `json:"triggered"`
	Side           model.Side `json:"side,omitempty"`
	ProtectiveStop float64    `json:"protective_stop"`
	Rationale      string     `json:"rationale"`
	Zone           string     `json:"zone"` // display only
	TS             int64      `json:"ts"`
}

// EntrySide maps a trend direction to the side an entry would take.
// NEUTRAL maps to "" (no entry).
func EntrySide(d model.Direction) model.Side {
	switch d {
	case model.DirectionUp:
		return model.SideLong
	case model.DirectionDown:
		return model.SideShort
	default:
		return ""
	}
}
