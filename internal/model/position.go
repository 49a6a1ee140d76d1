package model

// Side is the direction of a position or an entry.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Direction is a higher-timeframe trend verdict.
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// Opposes reports whether the trend runs against a position on side s.
func (d Direction) Opposes(s Side) bool {
	return (d == DirectionUp && s == SideShort) || (d == DirectionDown && s == SideLong)
}

// Position is a snapshot of the open position on the exchange account.
// The engine only reads it; stop changes are proposed via a Decision.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`           // contracts
	EntryPrice    float64 `json:"entry_price"`    // average entry
	UnrealizedPnL float64 `json:"unrealized_pnl"` // quote currency
	StopPrice     float64 `json:"stop_price"`     // 0 = unset
	Leverage      float64 `json:"leverage"`
}

// HasStop reports whether a protective stop is committed.
func (p *Position) HasStop() bool {
	return p.StopPrice > 0
}

// Account is the equity snapshot of the trading account.
type Account struct {
	TotalEquity     float64 `json:"total_equity"`
	AvailableEquity float64 `json:"available_equity"`
}
