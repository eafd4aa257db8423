package dsp

import (
	"math"
)

// DenoiseLevels is the default decomposition depth for WaveletDenoise.
const DenoiseLevels = 4

type haarLevel struct {
	approx []float64
	detail []float64
}

// haarForward performs one level of the Haar transform. Odd-length input is padded
// by repeating the last sample.
func haarForward(x []float64) ([]float64, []float64) {
	n := len(x)
	if n%2 != 0 {
		padded := make([]float64, n+1)
		copy(padded, x)
		padded[n] = x[n-1]
		x = padded
		n++
	}
	half := n / 2
	approx := make([]float64, half)
	detail := make([]float64, half)
	for i := 0; i < half; i++ {
		a, b := x[2*i], x[2*i+1]
		approx[i] = (a + b) / math.Sqrt2
		detail[i] = (a - b) / math.Sqrt2
	}
	return approx, detail
}

func haarInverse(approx, detail []float64, n int) []float64 {
	out := make([]float64, 2*len(approx))
	for i := range approx {
		a, d := approx[i], detail[i]
		out[2*i] = (a + d) / math.Sqrt2
		out[2*i+1] = (a - d) / math.Sqrt2
	}
	return out[:n]
}

func decompose(x []float64, levels int) ([]float64, []haarLevel, []int) {
	current := x
	var stack []haarLevel
	var lengths []int
	for l := 0; l < levels && len(current) >= 2; l++ {
		lengths = append(lengths, len(current))
		a, d := haarForward(current)
		stack = append(stack, haarLevel{approx: a, detail: d})
		current = a
	}
	return current, stack, lengths
}

func reconstruct(approx []float64, stack []haarLevel, lengths []int) []float64 {
	current := approx
	for l := len(stack) - 1; l >= 0; l-- {
		current = haarInverse(current, stack[l].detail, lengths[l])
	}
	return current
}

// WaveletDenoise soft-thresholds the Haar detail coefficients of each level with
// the universal threshold sigma*sqrt(2 ln n), sigma estimated from the level's
// median absolute deviation. Coarser levels are thresholded 20% harder per level.
func WaveletDenoise(x []float64, levels int) []float64 {
	out := make([]float64, len(x))
	if len(x) < 16 {
		copy(out, x)
		return out
	}
	approx, stack, lengths := decompose(x, levels)

	for l := range stack {
		t := universalThreshold(stack[l].detail) * (1 + float64(l)*0.2)
		for i, v := range stack[l].detail {
			stack[l].detail[i] = softThreshold(v, t)
		}
	}
	copy(out, reconstruct(approx, stack, lengths))
	return out
}

func universalThreshold(coeffs []float64) float64 {
	abs := make([]float64, len(coeffs))
	for i, v := range coeffs {
		abs[i] = math.Abs(v)
	}
	sigma := Median(abs) / 0.6745
	return sigma * math.Sqrt(2*math.Log(float64(len(coeffs))))
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

// RemoveBaselineWavelet removes respiration and drift by decomposing as deep as the
// length allows (up to 10 levels) and reconstructing with the approximation zeroed.
func RemoveBaselineWavelet(x []float64) []float64 {
	out := make([]float64, len(x))
	levels := 0
	if len(x) > 0 {
		levels = int(math.Floor(math.Log2(float64(len(x))))) - 2
	}
	if levels > 10 {
		levels = 10
	}
	if levels < 3 {
		copy(out, x)
		return out
	}
	approx, stack, lengths := decompose(x, levels)
	copy(out, reconstruct(make([]float64, len(approx)), stack, lengths))
	return out
}
