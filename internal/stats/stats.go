// Package stats provides the robust statistics used by the detector.
//
// Baselines are built from medians and median absolute deviations rather than
// means and standard deviations, so a burst in the very samples being scored
// cannot drag the baseline towards itself.
package stats

import (
	"math"
	"sort"
)

// MADConsistency converts a median absolute deviation into a
// standard-deviation-equivalent for normally distributed data.
const MADConsistency = 1.4826

// Median returns the median of values. It returns 0 for an empty slice.
// The input is not modified.
func Median(values []float64) float64 {
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

// MAD returns the median absolute deviation of values around center.
func MAD(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - center)
	}
	return Median(deviations)
}

// Scale returns max(floor, MAD×1.4826) computed around the median of values.
func Scale(values []float64, floor float64) float64 {
	return math.Max(floor, MAD(values, Median(values))*MADConsistency)
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Sigmoid is the logistic function 1/(1+e^-x).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
