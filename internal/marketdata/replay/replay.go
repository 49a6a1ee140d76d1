// Package replay reads historical LTF candles back from storage and
// emits them in time order for backtesting.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"emafutures/internal/model"
)

// RangeReader reads a time range of stored candles, oldest first.
type RangeReader interface {
	ReadRange(ctx context.Context, symbol string, tf int, fromTS, toTS int64) ([]model.Candle, error)
}

// Replayer replays stored candles at a configurable speed.
type Replayer struct {
	reader RangeReader
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by a candle store.
func New(reader RangeReader) *Replayer {
	return &Replayer{reader: reader, sleep: sleepCtx}
}

// Run emits the candles of symbol/tf in [fromTS, toTS] into outCh and
// returns how many were emitted. speed scales the recorded gaps:
// 1.0 = real-time, 60 = 60x, 0 = as fast as possible. A single gap never
// waits longer than 5s.
func (r *Replayer) Run(ctx context.Context, symbol string, tf int, fromTS, toTS int64, speed float64, outCh chan<- model.Candle) (int, error) {
	candles, err := r.reader.ReadRange(ctx, symbol, tf, fromTS, toTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Printf("[replay] no %ds candles for %s", tf, symbol)
		return 0, nil
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].TS < candles[j].TS })

	log.Printf("[replay] loaded %d candles for %s, speed=%.1fx", len(candles), symbol, speed)

	var prevTS int64
	emitted := 0
	for _, c := range candles {
		if speed > 0 && emitted > 0 {
			if gap := time.Duration(c.TS-prevTS) * time.Millisecond; gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				if err := r.sleep(ctx, scaled); err != nil {
					log.Printf("[replay] cancelled after %d candles", emitted)
					return emitted, err
				}
			}
		}
		prevTS = c.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		case outCh <- c:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
