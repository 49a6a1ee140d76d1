package indicator

// EMASeries computes an exponential moving average over prices.
// O(n), one output per input, aligned by index.
//
// The series is seeded with prices[0] rather than an SMA warm-up window, so
// the first ~period values lean towards the opening price. period only sets
// the smoothing factor and does not impose a minimum input length.
func EMASeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	if period < 1 {
		period = 1
	}

	// EMA formula: EMA = (Price * k) + (EMA_prev * (1 - k))
	k := 2.0 / float64(period+1)
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}
