package gateway

import (
	"sort"
	"sync"
	"time"
)

// LatencySummary is a percentile snapshot in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// LatencyTracker keeps the last N latency samples. Thread-safe.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	pos     int
	count   int
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, capacity)}
}

// Record adds a sample.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.samples[lt.pos] = d
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Summary returns nearest-rank percentiles over the buffered samples.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	sorted := make([]float64, lt.count)
	for i := 0; i < lt.count; i++ {
		sorted[i] = float64(lt.samples[i]) / float64(time.Millisecond)
	}
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return LatencySummary{}
	}
	sort.Float64s(sorted)
	return LatencySummary{
		Count: len(sorted),
		P50:   nearestRank(sorted, 50),
		P95:   nearestRank(sorted, 95),
		P99:   nearestRank(sorted, 99),
	}
}

func nearestRank(sorted []float64, p int) float64 {
	rank := (p*len(sorted) + 99) / 100 // ceil(p/100 × n)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
