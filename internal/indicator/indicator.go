// Package indicator provides the moving-average math used by the strategy.
//
// Everything here is a pure function over slices: no state is kept between
// calls, and index i of every output depends only on inputs [0..i].
package indicator

import "emafutures/internal/model"

// Closes extracts closing prices from a candle series, preserving order.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Relation compares a fast and a slow series at index i.
// Returns 1 when fast is above slow, -1 when below and 0 when equal.
func Relation(fast, slow []float64, i int) int {
	switch {
	case fast[i] > slow[i]:
		return 1
	case fast[i] < slow[i]:
		return -1
	default:
		return 0
	}
}

// CrossedUp reports a golden cross completed exactly at index i:
// fast[i] > slow[i] and fast[i-1] <= slow[i-1].
func CrossedUp(fast, slow []float64, i int) bool {
	if i < 1 || i >= len(fast) || i >= len(slow) {
		return false
	}
	return fast[i] > slow[i] && fast[i-1] <= slow[i-1]
}

// CrossedDown reports a death cross completed exactly at index i.
func CrossedDown(fast, slow []float64, i int) bool {
	if i < 1 || i >= len(fast) || i >= len(slow) {
		return false
	}
	return fast[i] < slow[i] && fast[i-1] >= slow[i-1]
}
