package service

import (
	"math"
	"sort"
)

// median returns the middle value of the input, averaging the two central
// values for even-sized input. Returns 0 for empty input.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses the n-1 divisor. Returns 0 for fewer than two values.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// zScore standardizes a value against its cohort. A zero standard deviation
// means every member scored identically; everyone sits at the mean, so z is
// 0 rather than undefined.
func zScore(value, cohortMean, cohortStdDev float64) float64 {
	if cohortStdDev == 0 {
		return 0
	}
	return (value - cohortMean) / cohortStdDev
}
