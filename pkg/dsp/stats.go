// Package dsp contains the signal primitives used by the labelling, inference and
// annotation stages: normalisation, zero-phase filtering, smoothing, peak finding,
// resampling, wavelet cleanup and artifact detection.
package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// zscoreEps keeps flat windows finite after normalisation.
const zscoreEps = 1e-8

// NanToMean returns a copy of x where NaN samples are replaced with the mean of the
// finite samples. An all-NaN input becomes all zeros.
func NanToMean(x []float64) []float64 {
	var sum float64
	var n int
	for _, v := range x {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}

	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = mean
		} else {
			out[i] = v
		}
	}
	return out
}

// ZScore returns (x - mean) / (std + 1e-8) using the population standard deviation.
func ZScore(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	copy(out, x)
	floats.AddConst(-mean, out)
	floats.Scale(1/(std+zscoreEps), out)
	return out
}

// MinMax scales x into [0, 1]. A constant signal maps to zeros.
func MinMax(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	lo, hi := floats.Min(x), floats.Max(x)
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range x {
		out[i] = (v - lo) / span
	}
	return out
}

// Invert returns 1 - x.
func Invert(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = 1 - v
	}
	return out
}

// Normalize01Inverted min-max scales the raw sensor waveform and flips it so that
// systolic peaks point upwards. The reflective sensor reports absorption inverted.
func Normalize01Inverted(x []float64) []float64 {
	return Invert(MinMax(x))
}

// Percentile returns the p-th percentile (0..100) of x, interpolating linearly
// between the closest ranks at position p/100*(n-1). gonum's LinInterp places
// the ranks differently.
func Percentile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	h := math.Min(math.Max(p, 0), 100) / 100 * float64(len(sorted)-1)
	lo := int(h)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Argmax returns the index of the largest element of x, or -1 for empty input.
func Argmax(x []float64) int {
	if len(x) == 0 {
		return -1
	}
	return floats.MaxIdx(x)
}

// Median returns the median of x.
func Median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
