package indicators

import "math"

// Bollinger returns the middle band (SMA) and the upper/lower bands at
// stdDevs sample standard deviations, aligned with the input.
func Bollinger(closes []float64, period int, stdDevs float64) (middle, upper, lower []float64) {
	middle = SMA(closes, period)
	upper = warmup(len(closes))
	lower = warmup(len(closes))

	if len(closes) < period || period < 2 {
		return middle, upper, lower
	}

	for i := period - 1; i < len(closes); i++ {
		mean := middle[i]
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			sum += d * d
		}
		sigma := math.Sqrt(sum / float64(period-1))
		upper[i] = mean + stdDevs*sigma
		lower[i] = mean - stdDevs*sigma
	}
	return middle, upper, lower
}
