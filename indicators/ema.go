package indicators

import "math"

// SMA returns the simple moving average aligned with the input. The
// first period-1 entries are NaN.
func SMA(values []float64, period int) []float64 {
	out := warmup(len(values))
	if len(values) < period || period <= 0 {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average aligned with the input,
// alpha = 2/(n+1), seeded with the SMA of the first n samples.
func EMA(values []float64, period int) []float64 {
	out := warmup(len(values))
	if len(values) < period || period <= 0 {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*alpha + ema
		out[i] = ema
	}
	return out
}

// emaOf runs an EMA over a series that may itself have a NaN warm-up
// prefix, seeding from the first period valid samples.
func emaOf(values []float64, period int) []float64 {
	out := warmup(len(values))

	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < period {
		return out
	}

	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[start+period-1] = ema

	alpha := 2.0 / float64(period+1)
	for i := start + period; i < len(values); i++ {
		ema = (values[i]-ema)*alpha + ema
		out[i] = ema
	}
	return out
}

// warmup allocates an all-NaN slice; producers overwrite the defined
// suffix, leaving NaN for the warm-up prefix.
func warmup(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
