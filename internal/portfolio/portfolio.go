// Package portfolio holds the money-management side of the strategy:
// position risk rules, contract sizing and P&L bookkeeping.
//
// Prices and PnL are float64 in quote currency; sizes are contracts of
// ContractValue base units each.
package portfolio

import "emafutures/internal/model"

// UnrealizedPnL returns the open profit of size contracts entered at entry.
func UnrealizedPnL(side model.Side, entry, price, size, contractValue float64) float64 {
	diff := price - entry
	if side == model.SideShort {
		diff = -diff
	}
	return diff * size * contractValue
}

// Notional returns the quote-currency value of size contracts at price.
func Notional(size, price, contractValue float64) float64 {
	return size * price * contractValue
}

// Mark refreshes a position snapshot's unrealized PnL at price.
func Mark(pos model.Position, price, contractValue float64) model.Position {
	pos.UnrealizedPnL = UnrealizedPnL(pos.Side, pos.EntryPrice, price, pos.Size, contractValue)
	return pos
}
