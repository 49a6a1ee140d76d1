package strategy

import (
	"fmt"

	"emafutures/internal/indicator"
	"emafutures/internal/model"
)

// ClassifyTrend reads the higher-timeframe direction from the last closed
// candle. EMA15 above EMA60 is UP, below is DOWN, equal is NEUTRAL.
// Candle colour only changes the wording of the description; it never vetoes
// the EMA direction.
func ClassifyTrend(candles []model.Candle) TrendVerdict {
	last, ok := model.Last(candles)
	if len(candles) < MinCandles {
		v := TrendVerdict{
			Direction:   model.DirectionNeutral,
			Description: fmt.Sprintf("data insufficient: %d of %d candles", len(candles), MinCandles),
		}
		if ok {
			v.TS = last.TS
		}
		return v
	}

	closes := indicator.Closes(candles)
	fast := indicator.EMASeries(closes, FastPeriod)
	slow := indicator.EMASeries(closes, SlowPeriod)
	i := len(candles) - 1

	v := TrendVerdict{
		TS:      last.TS,
		FastEMA: fast[i],
		SlowEMA: slow[i],
	}

	switch indicator.Relation(fast, slow, i) {
	case 1:
		v.Direction = model.DirectionUp
		v.Description = fmt.Sprintf("uptrend, %s: EMA%d %.2f above EMA%d %.2f on a %s candle",
			trendStrength(last, model.DirectionUp), FastPeriod, fast[i], SlowPeriod, slow[i], candleColour(last))
	case -1:
		v.Direction = model.DirectionDown
		v.Description = fmt.Sprintf("downtrend, %s: EMA%d %.2f below EMA%d %.2f on a %s candle",
			trendStrength(last, model.DirectionDown), FastPeriod, fast[i], SlowPeriod, slow[i], candleColour(last))
	default:
		v.Direction = model.DirectionNeutral
		v.Description = fmt.Sprintf("no trend: EMA%d equals EMA%d at %.2f", FastPeriod, SlowPeriod, fast[i])
	}
	return v
}

func candleColour(c model.Candle) string {
	switch {
	case c.Bullish():
		return "bullish"
	case c.Bearish():
		return "bearish"
	}
	return "doji"
}

// trendStrength words the last candle against the trend: with it is
// strong, against it a pullback, a doji is undecided.
func trendStrength(c model.Candle, dir model.Direction) string {
	with, against := c.Bullish(), c.Bearish()
	if dir == model.DirectionDown {
		with, against = against, with
	}
	switch {
	case with:
		return "strong"
	case against:
		return "pulling back"
	}
	return "undecided"
}
