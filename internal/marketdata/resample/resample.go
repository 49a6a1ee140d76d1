// Package resample builds higher-timeframe candles from lower-timeframe
// ones. Buckets are aligned to ts - ts%tf in Unix milliseconds.
package resample

import (
	"fmt"

	"emafutures/internal/model"
)

// Builder resamples a stream of closed LTF candles into closed HTF
// candles, one HTF bucket at a time. Designed for a single goroutine.
type Builder struct {
	ltfMs int64
	tfMs  int64

	bucket  int64
	forming model.Candle
	started bool
	done    int64 // end of the last closed bucket

	// OnStale is called when a candle belonging to the forming bucket's past
	// or to an already closed bucket is dropped (optional).
	OnStale func(c model.Candle)
}

// New creates a builder for ltfSeconds → tfSeconds. tfSeconds must be a
// positive multiple of ltfSeconds.
func New(ltfSeconds, tfSeconds int) (*Builder, error) {
	if ltfSeconds <= 0 || tfSeconds <= 0 || tfSeconds%ltfSeconds != 0 {
		return nil, fmt.Errorf("resample: tf %ds is not a multiple of %ds", tfSeconds, ltfSeconds)
	}
	return &Builder{ltfMs: int64(ltfSeconds) * 1000, tfMs: int64(tfSeconds) * 1000}, nil
}

// Add merges one LTF candle and returns the HTF candles it closed, oldest
// first. A bucket closes when its last LTF slot arrives, or when c opens a
// later bucket while the previous one was still forming (a feed gap).
func (b *Builder) Add(c model.Candle) []model.Candle {
	bucket := c.TS - c.TS%b.tfMs

	if (b.started && bucket < b.bucket) || c.TS < b.done {
		if b.OnStale != nil {
			b.OnStale(c)
		}
		return nil
	}

	var closed []model.Candle
	if b.started && bucket > b.bucket {
		closed = append(closed, b.forming)
		b.started = false
		b.done = b.bucket + b.tfMs
	}

	if !b.started {
		b.bucket = bucket
		b.forming = model.Candle{TS: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		b.started = true
	} else {
		fc := &b.forming
		if c.High > fc.High {
			fc.High = c.High
		}
		if c.Low < fc.Low {
			fc.Low = c.Low
		}
		fc.Close = c.Close
		fc.Volume += c.Volume
	}

	if c.TS+b.ltfMs >= b.bucket+b.tfMs {
		closed = append(closed, b.forming)
		b.started = false
		b.done = b.bucket + b.tfMs
	}
	return closed
}

// Forming returns the in-progress HTF candle, if any.
func (b *Builder) Forming() (model.Candle, bool) {
	return b.forming, b.started
}

// Resample converts a full LTF series into HTF candles, oldest first.
// A trailing bucket whose last LTF slot is missing is dropped, so every
// returned candle is closed.
func Resample(ltf []model.Candle, ltfSeconds, tfSeconds int) ([]model.Candle, error) {
	b, err := New(ltfSeconds, tfSeconds)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(ltf)*ltfSeconds/tfSeconds+1)
	for _, c := range ltf {
		out = append(out, b.Add(c)...)
	}
	return out, nil
}
