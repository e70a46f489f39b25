package indicators

import "math"

// ADX returns the Average Directional Index with Wilder's smoothing,
// aligned with the input. Values become defined at index 2*period-1.
func ADX(highs, lows, closes []float64, period int) []float64 {
	out := warmup(len(highs))
	if len(highs) < 2*period || period <= 0 {
		return out
	}

	tr := TrueRange(highs, lows, closes)

	plusDM := make([]float64, len(highs))
	minusDM := make([]float64, len(highs))
	for i := 1; i < len(highs); i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// Wilder-smoothed sums, seeded over the first period deltas.
	var trSum, plusSum, minusSum float64
	for i := 1; i <= period; i++ {
		trSum += tr[i]
		plusSum += plusDM[i]
		minusSum += minusDM[i]
	}

	dx := make([]float64, 0, len(highs))
	dx = append(dx, dxValue(plusSum, minusSum, trSum))

	for i := period + 1; i < len(highs); i++ {
		trSum = trSum - trSum/float64(period) + tr[i]
		plusSum = plusSum - plusSum/float64(period) + plusDM[i]
		minusSum = minusSum - minusSum/float64(period) + minusDM[i]
		dx = append(dx, dxValue(plusSum, minusSum, trSum))
	}

	// ADX is the Wilder average of DX. dx[j] corresponds to input index
	// period+j; the first ADX lands at input index 2*period-1.
	sum := 0.0
	for j := 0; j < period; j++ {
		sum += dx[j]
	}
	adx := sum / float64(period)
	out[2*period-1] = adx

	for j := period; j < len(dx); j++ {
		adx = (adx*float64(period-1) + dx[j]) / float64(period)
		out[period+j] = adx
	}
	return out
}

func dxValue(plusSum, minusSum, trSum float64) float64 {
	if trSum == 0 {
		return 0
	}
	plusDI := 100 * plusSum / trSum
	minusDI := 100 * minusSum / trSum
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}
