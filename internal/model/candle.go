package model

import "time"

// Candle is a closed OHLCV bar for the traded instrument.
// TS is the bucket start in Unix milliseconds. Slices of candles are always
// ordered oldest first and are never mutated once produced.
type Candle struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Time returns the candle start as a UTC time.
func (c *Candle) Time() time.Time {
	return time.UnixMilli(c.TS).UTC()
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// Bearish reports whether the candle closed below its open. A doji is
// neither bullish nor bearish.
func (c *Candle) Bearish() bool {
	return c.Close < c.Open
}

// Last returns the most recent candle of a series and false if it is empty.
func Last(candles []Candle) (Candle, bool) {
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}

// Tail returns the last n candles (or all of them if there are fewer).
// The result shares the backing array with the input.
func Tail(candles []Candle, n int) []Candle {
	if n <= 0 {
		return nil
	}
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
