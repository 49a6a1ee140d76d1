package strategy

import (
	"fmt"
	"math"

	"emafutures/internal/indicator"
	"emafutures/internal/model"
)

// DetectEntry looks for an entry on the last closed lower-timeframe candle.
//
// UP trend: the candle must complete a golden cross (EMA15 moves above
// EMA60) that ends a death zone. DOWN trend: a death cross ending a gold
// zone. The zone's extreme (lowest low for LONG, highest high for SHORT,
// crossing candle included) becomes the protective stop. A candle that is
// merely inside a zone, or a cross with no fully observed opposite zone
// behind it, produces no signal.
func DetectEntry(candles []model.Candle, trend model.Direction) EntrySignal {
	if len(candles) < MinCandles {
		return EntrySignal{
			Rationale: fmt.Sprintf("insufficient data: %d of %d candles", len(candles), MinCandles),
		}
	}

	side := EntrySide(trend)
	if side == "" {
		return EntrySignal{
			TS:        candles[len(candles)-1].TS,
			Rationale: "no higher-timeframe trend, entries disabled",
		}
	}

	closes := indicator.Closes(candles)
	fast := indicator.EMASeries(closes, FastPeriod)
	slow := indicator.EMASeries(closes, SlowPeriod)
	return scanEntry(fast, slow, candles, side)
}

// scanEntry runs the cross and zone checks on precomputed EMAs.
// fast, slow and candles must be index aligned.
func scanEntry(fast, slow []float64, candles []model.Candle, side model.Side) EntrySignal {
	i := len(candles) - 1
	sig := EntrySignal{TS: candles[i].TS}

	// The new cross's side is +1 (fast above) for LONG and -1 for SHORT;
	// the zone before it is every candle not on that side.
	want := 1
	crossed := indicator.CrossedUp(fast, slow, i)
	zoneName, crossName := "death zone", "golden cross"
	if side == model.SideShort {
		want = -1
		crossed = indicator.CrossedDown(fast, slow, i)
		zoneName, crossName = "gold zone", "death cross"
	}

	if !crossed {
		rel := indicator.Relation(fast, slow, i)
		if rel == want {
			sig.Zone = "inside " + oppositeZone(zoneName)
			sig.Rationale = fmt.Sprintf("no fresh %s: already past the cross, waiting for the next setup", crossName)
		} else {
			sig.Zone = "inside " + zoneName
			sig.Rationale = fmt.Sprintf("waiting for a %s on the %s trend", crossName, side)
		}
		return sig
	}

	extreme := candles[i].Low
	if side == model.SideShort {
		extreme = candles[i].High
	}

	start := -1
	for j := i - 1; j >= 0; j-- {
		if indicator.Relation(fast, slow, j) == want {
			start = j + 1
			break
		}
		if side == model.SideLong {
			extreme = math.Min(extreme, candles[j].Low)
		} else {
			extreme = math.Max(extreme, candles[j].High)
		}
	}

	if start < 0 {
		sig.Zone = zoneName + " (unbounded)"
		sig.Rationale = fmt.Sprintf("%s without a complete %s in the series, skipped", crossName, zoneName)
		return sig
	}

	length := i - start
	sig.Triggered = true
	sig.Side = side
	sig.ProtectiveStop = extreme
	sig.Zone = fmt.Sprintf("%s of %d candles -> %s", zoneName, length, crossName)
	if side == model.SideLong {
		sig.Rationale = fmt.Sprintf("%s after a %d-candle %s, stop under the zone low %.4f", crossName, length, zoneName, extreme)
	} else {
		sig.Rationale = fmt.Sprintf("%s after a %d-candle %s, stop over the zone high %.4f", crossName, length, zoneName, extreme)
	}
	return sig
}

func oppositeZone(zone string) string {
	if zone == "death zone" {
		return "gold zone"
	}
	return "death zone"
}
