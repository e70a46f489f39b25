package indicators

// VolumeRatio returns current volume divided by the mean of the last
// period volumes (inclusive), aligned with the input. The first
// period-1 entries are NaN.
func VolumeRatio(volumes []float64, period int) []float64 {
	out := warmup(len(volumes))
	if len(volumes) < period || period <= 0 {
		return out
	}

	sum := 0.0
	for i, v := range volumes {
		sum += v
		if i >= period {
			sum -= volumes[i-period]
		}
		if i >= period-1 {
			mean := sum / float64(period)
			if mean > 0 {
				out[i] = volumes[i] / mean
			} else {
				out[i] = 0
			}
		}
	}
	return out
}
