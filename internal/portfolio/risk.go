package portfolio

import (
	"fmt"
	"math"

	"emafutures/internal/model"
)

// RiskKind is the action proposed by the risk manager for an open position.
type RiskKind string

const (
	RiskHold       RiskKind = "HOLD"
	RiskClose      RiskKind = "CLOSE"
	RiskAdd        RiskKind = "ADD"
	RiskUpdateStop RiskKind = "UPDATE_STOP"
)

// RiskParams holds the money-management thresholds.
type RiskParams struct {
	PyramidTrigger  float64 `json:"pyramid_trigger"`  // unrealized PnL / total equity that triggers an add
	PyramidFraction float64 `json:"pyramid_fraction"` // equity fraction per add
	TrailLookback   int     `json:"trail_lookback"`   // candles used for the technical trail
	TrailOffset     float64 `json:"trail_offset"`     // fraction beyond the extreme
	BreakevenBuffer float64 `json:"breakeven_buffer"` // round-trip fees + slippage as a fraction of entry
}

// DefaultRiskParams returns the strategy's fixed rules: add 5% of equity at
// every 5% of equity in open profit, trail the last 5 candles by 0.05%, and
// treat breakeven as entry ± (2 × taker fee + slippage).
func DefaultRiskParams(takerFee, slippage float64) RiskParams {
	return RiskParams{
		PyramidTrigger:  0.05,
		PyramidFraction: 0.05,
		TrailLookback:   5,
		TrailOffset:     0.0005,
		BreakevenBuffer: 2*takerFee + slippage,
	}
}

// RiskInput is the snapshot the risk manager evaluates.
type RiskInput struct {
	Position model.Position
	Account  model.Account
	Price    float64
	Recent   []model.Candle // recent closed lower-timeframe candles, oldest first
	Trend    model.Direction
}

// RiskAction is the risk manager's verdict for one evaluation.
type RiskAction struct {
	Kind         RiskKind `json:"kind"`
	ProposedStop float64  `json:"proposed_stop"` // stop to commit; equals the current stop when unchanged
	StopChanged  bool     `json:"stop_changed"`
	SizeFraction float64  `json:"size_fraction"` // equity fraction, ADD only
	Reason       string   `json:"reason"`
}

// EvaluateRisk applies the position rules in strict priority order:
//
//  1. the trend turned against the position: CLOSE, nothing else runs
//  2. open profit at or above the pyramid trigger: ADD
//  3. ratchet the stop (on HOLD or ADD): HOLD becomes UPDATE_STOP, ADD
//     carries the new stop
//  4. otherwise HOLD
func EvaluateRisk(in RiskInput, p RiskParams) RiskAction {
	pos := in.Position
	act := RiskAction{Kind: RiskHold, ProposedStop: pos.StopPrice}

	if in.Trend.Opposes(pos.Side) {
		act.Kind = RiskClose
		act.Reason = fmt.Sprintf("trend %s against %s position, exiting", in.Trend, pos.Side)
		return act
	}

	if in.Account.TotalEquity > 0 && pos.UnrealizedPnL >= p.PyramidTrigger*in.Account.TotalEquity {
		act.Kind = RiskAdd
		act.SizeFraction = p.PyramidFraction
		act.Reason = fmt.Sprintf("open profit %.2f >= %.1f%% of equity %.2f, adding %.1f%%",
			pos.UnrealizedPnL, p.PyramidTrigger*100, in.Account.TotalEquity, p.PyramidFraction*100)
	}

	stop, why, ok := ratchetStop(pos, in.Price, in.Recent, p)
	if ok {
		act.ProposedStop = stop
		act.StopChanged = true
		if act.Kind == RiskHold {
			act.Kind = RiskUpdateStop
			act.Reason = why
		} else {
			act.Reason += "; " + why
		}
	}

	if act.Reason == "" {
		act.Reason = "holding, " + why
	}
	return act
}

// ratchetStop computes the trailing-stop candidate and applies the
// monotonicity guard. ok is false when the current stop should stay.
func ratchetStop(pos model.Position, price float64, recent []model.Candle, p RiskParams) (float64, string, bool) {
	window := model.Tail(recent, p.TrailLookback)
	if len(window) == 0 || price <= 0 {
		return 0, "no candles to trail", false
	}

	var trail, breakeven, candidate float64
	if pos.Side == model.SideLong {
		low := window[0].Low
		for _, c := range window[1:] {
			low = math.Min(low, c.Low)
		}
		trail = low * (1 - p.TrailOffset)
		breakeven = pos.EntryPrice * (1 + p.BreakevenBuffer)
		candidate = trail
		if price > breakeven {
			candidate = math.Max(trail, breakeven)
		}
		if candidate >= price {
			return 0, fmt.Sprintf("stop candidate %.4f not below price %.4f", candidate, price), false
		}
		if pos.HasStop() && candidate <= pos.StopPrice {
			return 0, fmt.Sprintf("stop candidate %.4f does not improve %.4f", candidate, pos.StopPrice), false
		}
	} else {
		high := window[0].High
		for _, c := range window[1:] {
			high = math.Max(high, c.High)
		}
		trail = high * (1 + p.TrailOffset)
		breakeven = pos.EntryPrice * (1 - p.BreakevenBuffer)
		candidate = trail
		if price < breakeven {
			candidate = math.Min(trail, breakeven)
		}
		if candidate <= price {
			return 0, fmt.Sprintf("stop candidate %.4f not above price %.4f", candidate, price), false
		}
		if pos.HasStop() && candidate >= pos.StopPrice {
			return 0, fmt.Sprintf("stop candidate %.4f does not improve %.4f", candidate, pos.StopPrice), false
		}
	}

	return candidate, fmt.Sprintf("stop ratcheted to %.4f (trail %.4f, breakeven %.4f)", candidate, trail, breakeven), true
}
