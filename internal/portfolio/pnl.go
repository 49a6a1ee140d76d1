package portfolio

import (
	"math"
	"sync"
	"time"

	"emafutures/internal/model"
)

// Trade is a fill applied to the tracker.
type Trade struct {
	Side      model.Side `json:"side"` // LONG = buy, SHORT = sell
	Size      float64    `json:"size"` // contracts
	Price     float64    `json:"price"`
	Fee       float64    `json:"fee"`
	Realized  float64    `json:"realized"` // PnL realized by this fill, before fees
	Timestamp time.Time  `json:"timestamp"`
}

// PnLTracker keeps the net position of a single instrument and its
// realized P&L. Buys and sells net against each other; a fill larger than
// the open position closes it and opens the remainder on the other side.
type PnLTracker struct {
	mu            sync.RWMutex
	contractValue float64
	trades        []Trade

	qty      float64 // signed contracts: positive = long, negative = short
	avgPrice float64
	realized float64
	fees     float64
}

// NewPnLTracker creates a tracker for contracts of contractValue base units.
func NewPnLTracker(contractValue float64) *PnLTracker {
	return &PnLTracker{
		contractValue: contractValue,
		trades:        make([]Trade, 0, 256),
	}
}

// RecordTrade applies a fill and returns the P&L it realized (before fees).
func (p *PnLTracker) RecordTrade(trade Trade) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	delta := trade.Size
	if trade.Side == model.SideShort {
		delta = -delta
	}

	var realized float64
	switch {
	case p.qty == 0 || sameSign(p.qty, delta):
		// Increase position: weighted average price
		total := math.Abs(p.qty) + trade.Size
		p.avgPrice = (p.avgPrice*math.Abs(p.qty) + trade.Price*trade.Size) / total
		p.qty += delta

	default:
		// Reduce position, possibly flipping
		closing := math.Min(trade.Size, math.Abs(p.qty))
		dir := 1.0
		if p.qty < 0 {
			dir = -1.0
		}
		realized = (trade.Price - p.avgPrice) * closing * p.contractValue * dir
		p.qty -= dir * closing

		if rest := trade.Size - closing; rest > 1e-12 {
			p.qty = math.Copysign(rest, delta)
			p.avgPrice = trade.Price
		}
		if math.Abs(p.qty) < 1e-12 {
			p.qty = 0
			p.avgPrice = 0
		}
	}

	p.realized += realized
	p.fees += trade.Fee
	trade.Realized = realized
	p.trades = append(p.trades, trade)
	return realized
}

// Position returns the open position, or false when flat.
func (p *PnLTracker) Position() (side model.Side, size, avgPrice float64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.qty == 0 {
		return "", 0, 0, false
	}
	side = model.SideLong
	if p.qty < 0 {
		side = model.SideShort
	}
	return side, math.Abs(p.qty), p.avgPrice, true
}

// GetRealizedPnL returns realized P&L net of fees.
func (p *PnLTracker) GetRealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized - p.fees
}

// GetUnrealizedPnL values the open position at price.
func (p *PnLTracker) GetUnrealizedPnL(price float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return (price - p.avgPrice) * p.qty * p.contractValue
}

// GetTrades returns a snapshot of all trades.
func (p *PnLTracker) GetTrades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary is a point-in-time P&L report.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"` // net of fees
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Fees          float64 `json:"fees"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	ClosingTrades int     `json:"closing_trades"`
	WinningTrades int     `json:"winning_trades"`
}

// GetSummary returns the current P&L summary valued at price.
func (p *PnLTracker) GetSummary(price float64) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealized := (price - p.avgPrice) * p.qty * p.contractValue
	s := PnLSummary{
		RealizedPnL:   p.realized - p.fees,
		UnrealizedPnL: unrealized,
		Fees:          p.fees,
		TotalPnL:      p.realized - p.fees + unrealized,
		TotalTrades:   len(p.trades),
	}
	for _, t := range p.trades {
		if t.Realized != 0 {
			s.ClosingTrades++
			if t.Realized > 0 {
				s.WinningTrades++
			}
		}
	}
	return s
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
