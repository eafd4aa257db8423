package dsp

import (
	"math"
	"sort"
)

// PeakOptions constrains FindPeaks. Zero values disable a constraint, except
// Height and Prominence which use NaN-free pointers to distinguish "unset" from 0.
type PeakOptions struct {
	// Height is the minimum peak value.
	Height *float64
	// Distance is the minimum number of samples between neighbouring peaks.
	Distance int
	// Prominence is the minimum vertical distance to the higher of the two bases.
	Prominence *float64
}

// Float is a helper to fill optional PeakOptions fields.
func Float(v float64) *float64 { return &v }

// FindPeaks returns the indices of local maxima in x that satisfy opts, in ascending
// order. Flat peaks report their middle sample (rounded down). Constraints are applied
// in order: height, distance (highest peaks win), prominence.
func FindPeaks(x []float64, opts PeakOptions) []int {
	peaks := localMaxima(x)

	if opts.Height != nil {
		kept := peaks[:0]
		for _, p := range peaks {
			if x[p] >= *opts.Height {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	if opts.Distance > 1 && len(peaks) > 1 {
		peaks = selectByDistance(x, peaks, opts.Distance)
	}

	if opts.Prominence != nil && len(peaks) > 0 {
		prom := Prominences(x, peaks)
		kept := peaks[:0]
		for i, p := range peaks {
			if prom[i] >= *opts.Prominence {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	return peaks
}

// localMaxima finds samples strictly greater than their left neighbour and greater
// than the first differing right neighbour.
func localMaxima(x []float64) []int {
	var peaks []int
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				left, right := i, ahead-1
				peaks = append(peaks, (left+right)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

func selectByDistance(x []float64, peaks []int, distance int) []int {
	n := len(peaks)
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[peaks[order[a]]] < x[peaks[order[b]]] })

	for k := n - 1; k >= 0; k-- {
		i := order[k]
		if !keep[i] {
			continue
		}
		for j := i - 1; j >= 0 && peaks[i]-peaks[j] < distance; j-- {
			keep[j] = false
		}
		for j := i + 1; j < n && peaks[j]-peaks[i] < distance; j++ {
			keep[j] = false
		}
	}

	out := make([]int, 0, n)
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// Prominences computes the prominence of each peak: its height above the higher of
// the lowest points reached on either side before meeting a taller sample.
func Prominences(x []float64, peaks []int) []float64 {
	out := make([]float64, len(peaks))
	for k, p := range peaks {
		h := x[p]

		leftMin := h
		for i := p; i >= 0 && x[i] <= h; i-- {
			leftMin = math.Min(leftMin, x[i])
		}
		rightMin := h
		for i := p; i < len(x) && x[i] <= h; i++ {
			rightMin = math.Min(rightMin, x[i])
		}
		out[k] = h - math.Max(leftMin, rightMin)
	}
	return out
}
