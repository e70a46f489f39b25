package indicators

import "math"

// TrueRange returns the true-range series. The first entry is high-low
// since there is no prior close.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(highs))
	for i := range highs {
		if i == 0 {
			out[i] = highs[i] - lows[i]
			continue
		}
		out[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	return out
}

// ATR returns the Average True Range with Wilder's smoothing, aligned
// with the input. The first period-1 entries are NaN.
func ATR(highs, lows, closes []float64, period int) []float64 {
	out := warmup(len(highs))
	if len(highs) < period || period <= 0 {
		return out
	}

	tr := TrueRange(highs, lows, closes)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period-1] = atr

	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}
