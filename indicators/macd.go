package indicators

import "math"

// MACD returns the MACD line (EMA12 - EMA26), the signal line (EMA9 of
// the MACD line) and the histogram, all aligned with the input.
func MACD(closes []float64) (macd, signal, histogram []float64) {
	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)

	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = ema12[i] - ema26[i] // NaN propagates through the warm-up
	}

	signal = emaOf(macd, 9)

	histogram = make([]float64, len(closes))
	for i := range closes {
		if math.IsNaN(macd[i]) || math.IsNaN(signal[i]) {
			histogram[i] = math.NaN()
		} else {
			histogram[i] = macd[i] - signal[i]
		}
	}
	return macd, signal, histogram
}
