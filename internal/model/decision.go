package model

import (
	"encoding/json"
	"time"
)

// Action is the externally visible trading action of a Decision.
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionHold       Action = "HOLD"
	ActionClose      Action = "CLOSE"
	ActionUpdateTPSL Action = "UPDATE_TPSL"
)

// Actionable reports whether the action requires the execution layer to act.
func (a Action) Actionable() bool {
	return a != ActionHold && a != ""
}

// Narrative holds the human-readable explanation fields of a Decision.
// They are informational only and never feed back into the action.
type Narrative struct {
	Summary       string `json:"summary"`
	TrendAnalysis string `json:"trend_analysis"`
	EntryAnalysis string `json:"entry_analysis"`
	RiskAnalysis  string `json:"risk_analysis"`
}

// Decision is the final artifact of one evaluation cycle.
// It is immutable once returned by the composer.
type Decision struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Action    Action    `json:"action"`
	Size      float64   `json:"size"` // contracts
	Leverage  float64   `json:"leverage"`
	StopPrice float64   `json:"stop_price"` // 0 = none
	Price     float64   `json:"price"`      // price the decision was computed at
	Trend     Direction `json:"trend"`
	Reason    string    `json:"reason"`
	Narrative Narrative `json:"narrative"`
	Annotated bool      `json:"annotated"` // narrative came from the annotator
	CreatedAt time.Time `json:"created_at"`
}

// SafeDecision is returned when composition fails unexpectedly.
// It never opens, sizes or leverages anything.
func SafeDecision(symbol, reason string, now time.Time) Decision {
	return Decision{
		Symbol:    symbol,
		Action:    ActionHold,
		Trend:     DirectionNeutral,
		Reason:    reason,
		CreatedAt: now,
		Narrative: Narrative{
			Summary: "evaluation failed, holding: " + reason,
		},
	}
}

// JSON returns the JSON-encoded decision.
func (d *Decision) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}
