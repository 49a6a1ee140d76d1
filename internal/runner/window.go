package runner

import (
	"context"
	"sync"

	"emafutures/internal/model"
)

// Window is an in-memory CandleSource holding the most recent candles per
// timeframe. The backtest feeds it from a replay.
type Window struct {
	mu     sync.RWMutex
	max    int
	series map[int][]model.Candle
}

// NewWindow creates a window keeping at most max candles per timeframe.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = 300
	}
	return &Window{max: max, series: make(map[int][]model.Candle)}
}

// Append adds closed candles to a timeframe, dropping the oldest beyond max.
func (w *Window) Append(tf int, candles ...model.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.series[tf], candles...)
	if over := len(s) - w.max; over > 0 {
		// reallocate so the backing array stays bounded
		s = append([]model.Candle(nil), s[over:]...)
	}
	w.series[tf] = s
}

// ReadCandles returns a copy of the latest limit candles of tf, oldest first.
// symbol is ignored: a window holds one instrument.
func (w *Window) ReadCandles(_ context.Context, _ string, tf int, limit int) ([]model.Candle, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	tail := model.Tail(w.series[tf], limit)
	return append([]model.Candle(nil), tail...), nil
}
