package execution

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"emafutures/internal/model"
	"emafutures/internal/portfolio"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID    string       `json:"order_id"`
	DecisionID string       `json:"decision_id,omitempty"`
	Side       model.Side   `json:"side"` // LONG = buy, SHORT = sell
	Size       float64      `json:"size"`
	Price      float64      `json:"price"`    // after slippage
	Slippage   float64      `json:"slippage"` // price units
	Fee        float64      `json:"fee"`
	Realized   float64      `json:"realized"`
	Reason     string       `json:"reason"`
	Action     model.Action `json:"action"`
	FilledAt   time.Time    `json:"filled_at"`
}

// PaperConfig configures a paper account.
type PaperConfig struct {
	Instrument   portfolio.Instrument
	StartEquity  float64
	TakerFeeRate float64 // fraction of notional per fill
	SlippageBps  float64 // basis points, e.g. 2 = 0.02%
}

// PaperAccount simulates a single-instrument futures account. It is an
// Executor and provides the position and equity snapshot the engine reads.
type PaperAccount struct {
	cfg PaperConfig
	pnl *portfolio.PnLTracker
	now func() time.Time

	mu       sync.RWMutex
	stop     float64
	leverage float64
	fills    []Fill
	orderSeq int64
}

// NewPaperAccount creates a flat paper account.
func NewPaperAccount(cfg PaperConfig) *PaperAccount {
	return &PaperAccount{
		cfg:   cfg,
		pnl:   portfolio.NewPnLTracker(cfg.Instrument.ContractValue),
		now:   time.Now,
		fills: make([]Fill, 0, 256),
	}
}

// Execute applies a decision. HOLD is a no-op.
func (p *PaperAccount) Execute(ctx context.Context, d model.Decision) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res := OrderResult{DecisionID: d.ID, Action: d.Action}
	side, size, _, open := p.pnl.Position()

	switch d.Action {
	case model.ActionHold, "":
		res.Status = StatusSkipped
		res.Message = "hold"

	case model.ActionBuy, model.ActionSell:
		want := model.SideLong
		if d.Action == model.ActionSell {
			want = model.SideShort
		}
		if open && side != want {
			return OrderResult{}, fmt.Errorf("%w: %s against %s", ErrSideConflict, d.Action, side)
		}
		if d.Size <= 0 || d.Price <= 0 {
			return OrderResult{}, fmt.Errorf("paper %s: size=%v price=%v", d.Action, d.Size, d.Price)
		}
		f := p.fillLocked(want, d.Size, d.Price, d.Action, d.Reason, d.ID)
		if d.StopPrice > 0 {
			p.stop = d.StopPrice
		}
		if !open && d.Leverage > 0 {
			p.leverage = d.Leverage
		}
		res.OrderID, res.Status, res.Fill = f.OrderID, StatusFilled, &f
		res.Message = fmt.Sprintf("paper filled %.4f @ %.4f", f.Size, f.Price)

	case model.ActionClose:
		if !open {
			return OrderResult{}, ErrNoPosition
		}
		f := p.fillLocked(side.Opposite(), size, d.Price, d.Action, d.Reason, d.ID)
		p.stop = 0
		res.OrderID, res.Status, res.Fill = f.OrderID, StatusFilled, &f
		res.Message = fmt.Sprintf("paper closed %.4f @ %.4f realized %.4f", f.Size, f.Price, f.Realized)

	case model.ActionUpdateTPSL:
		if !open {
			return OrderResult{}, ErrNoPosition
		}
		p.stop = d.StopPrice
		res.OrderID = p.nextOrderIDLocked()
		res.Status = StatusUpdated
		res.Message = fmt.Sprintf("stop set to %.4f", d.StopPrice)

	default:
		return OrderResult{}, fmt.Errorf("paper: unknown action %q", d.Action)
	}

	res.Position = p.positionLocked(d.Price)
	if d.Action.Actionable() {
		log.Printf("[paper] %s %s order=%s %s", d.Action, d.Symbol, res.OrderID, res.Message)
	}
	return res, nil
}

// CheckStop closes the position at its stop when the candle traded
// through it. It returns the closing fill and true when the stop was hit.
func (p *PaperAccount) CheckStop(c model.Candle) (Fill, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	side, size, _, open := p.pnl.Position()
	if !open || p.stop <= 0 {
		return Fill{}, false
	}
	hit := (side == model.SideLong && c.Low <= p.stop) || (side == model.SideShort && c.High >= p.stop)
	if !hit {
		return Fill{}, false
	}

	px := p.stop
	// gap through the stop fills at the open
	if side == model.SideLong && c.Open < px {
		px = c.Open
	} else if side == model.SideShort && c.Open > px {
		px = c.Open
	}
	f := p.fillLocked(side.Opposite(), size, px, model.ActionClose, "stop hit", "")
	p.stop = 0
	log.Printf("[paper] stop hit %s %.4f @ %.4f realized %.4f", side, f.Size, f.Price, f.Realized)
	return f, true
}

// Snapshot returns the open position (nil when flat) and the account
// equity valued at price.
func (p *PaperAccount) Snapshot(ctx context.Context, symbol string, price float64) (*model.Position, model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.Account{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos := p.positionLocked(price)
	if pos != nil {
		pos.Symbol = symbol
	}
	return pos, p.accountLocked(pos, price), nil
}

// Fills returns a snapshot of all fills.
func (p *PaperAccount) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Summary returns the P&L summary valued at price.
func (p *PaperAccount) Summary(price float64) portfolio.PnLSummary {
	return p.pnl.GetSummary(price)
}

// Equity returns total equity valued at price.
func (p *PaperAccount) Equity(price float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accountLocked(p.positionLocked(price), price).TotalEquity
}

func (p *PaperAccount) fillLocked(side model.Side, size, price float64, action model.Action, reason, decisionID string) Fill {
	// slippage always works against the trader; fills land on the price grid
	prec := p.cfg.Instrument.PricePrecision
	slipped := price * (1 + p.cfg.SlippageBps/10000)
	if side == model.SideShort {
		slipped = price * (1 - p.cfg.SlippageBps/10000)
	}
	px := portfolio.RoundPrice(slipped, prec)
	slip := px - price
	if side == model.SideShort {
		slip = price - px
	}
	fee := portfolio.Notional(size, px, p.cfg.Instrument.ContractValue) * p.cfg.TakerFeeRate

	f := Fill{
		OrderID:    p.nextOrderIDLocked(),
		DecisionID: decisionID,
		Side:       side,
		Size:       size,
		Price:      px,
		Slippage:   slip,
		Fee:        fee,
		Reason:     reason,
		Action:     action,
		FilledAt:   p.now(),
	}
	f.Realized = p.pnl.RecordTrade(portfolio.Trade{
		Side:      side,
		Size:      size,
		Price:     px,
		Fee:       fee,
		Timestamp: f.FilledAt,
	})
	p.fills = append(p.fills, f)
	return f
}

func (p *PaperAccount) nextOrderIDLocked() string {
	p.orderSeq++
	return fmt.Sprintf("PAPER-%d", p.orderSeq)
}

func (p *PaperAccount) positionLocked(price float64) *model.Position {
	side, size, avg, open := p.pnl.Position()
	if !open {
		return nil
	}
	pos := model.Position{
		Symbol:     p.cfg.Instrument.Symbol,
		Side:       side,
		Size:       size,
		EntryPrice: avg,
		StopPrice:  p.stop,
		Leverage:   p.leverage,
	}
	if price > 0 {
		pos = portfolio.Mark(pos, price, p.cfg.Instrument.ContractValue)
	}
	return &pos
}

func (p *PaperAccount) accountLocked(pos *model.Position, price float64) model.Account {
	total := p.cfg.StartEquity + p.pnl.GetRealizedPnL()
	var margin float64
	if pos != nil {
		total += pos.UnrealizedPnL
		lev := math.Max(pos.Leverage, 1)
		margin = portfolio.Notional(pos.Size, price, p.cfg.Instrument.ContractValue) / lev
	}
	return model.Account{TotalEquity: total, AvailableEquity: total - margin}
}
