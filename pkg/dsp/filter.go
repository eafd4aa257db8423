package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/jfcg/butter"
)

// ErrInvalidCutoff is returned when a cutoff frequency is outside (0, fs/2).
var ErrInvalidCutoff = errors.New("cutoff frequency out of range")

// Butterworth is a zero-phase Butterworth band-pass built from cascaded first-order
// sections. Each section pair is run forward and then backward over the signal,
// doubling the effective order and cancelling the phase shift.
type Butterworth struct {
	lowWc  float64
	highWc float64
	stages int
}

// NewButterworth creates a band-pass filter for [lowHz, highHz] at sample rate fs.
// stages is the number of first-order high/low sections per pass.
func NewButterworth(lowHz, highHz, fs float64, stages int) (*Butterworth, error) {
	if stages < 1 {
		stages = 1
	}
	if lowHz <= 0 || highHz <= lowHz || highHz >= fs/2 {
		return nil, fmt.Errorf("%w: band %.2f-%.2f Hz at fs %.2f Hz", ErrInvalidCutoff, lowHz, highHz, fs)
	}
	bp := &Butterworth{
		lowWc:  2 * math.Pi * lowHz / fs,
		highWc: 2 * math.Pi * highHz / fs,
		stages: stages,
	}
	// butter rejects cutoffs it cannot realise; check once up front.
	if butter.NewHighPass1(bp.lowWc) == nil || butter.NewLowPass1(bp.highWc) == nil {
		return nil, fmt.Errorf("%w: wc %.4f-%.4f rad/sample", ErrInvalidCutoff, bp.lowWc, bp.highWc)
	}
	return bp, nil
}

// Apply filters x forward only (causal).
func (bp *Butterworth) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	bp.pass(out)
	return out
}

// FiltFilt filters x forward and backward for zero phase distortion. The signal is
// padded with an odd reflection at both ends to reduce start-up transients.
func (bp *Butterworth) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := 3 * (2*bp.stages + 1)
	if pad > n-1 {
		pad = n - 1
	}

	ext := oddExtend(x, pad)
	bp.pass(ext)
	reverse(ext)
	bp.pass(ext)
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

// pass runs the cascaded sections over buf in place with fresh filter state.
func (bp *Butterworth) pass(buf []float64) {
	for s := 0; s < bp.stages; s++ {
		hp := butter.NewHighPass1(bp.lowWc)
		lp := butter.NewLowPass1(bp.highWc)
		for i, v := range buf {
			buf[i] = lp.Next(hp.Next(v))
		}
	}
}

// oddExtend mirrors x around its end points: 2*x[0]-x[pad..1] | x | 2*x[n-1]-x[n-2..n-1-pad].
func oddExtend(x []float64, pad int) []float64 {
	n := len(x)
	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// GaussianFilter1D smooths x with a Gaussian kernel of standard deviation sigma
// (in samples), truncated at 4 sigma, using half-sample symmetric reflection at the
// boundaries.
func GaussianFilter1D(x []float64, sigma float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if sigma <= 0 {
		copy(out, x)
		return out
	}

	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	for i := 0; i < n; i++ {
		var acc float64
		for k := -radius; k <= radius; k++ {
			acc += kernel[k+radius] * x[reflectIndex(i+k, n)]
		}
		out[i] = acc
	}
	return out
}

// reflectIndex maps an out-of-range index with (d c b a | a b c d | d c b a) reflection.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// MovingAverage returns the centred moving average of x over window samples.
// Windows are truncated at the signal edges.
func MovingAverage(x []float64, window int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if window < 1 {
		window = 1
	}
	if window > n {
		window = n
	}
	half := window / 2

	prefix := make([]float64, n+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	for i := 0; i < n; i++ {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > n {
			hi = n
		}
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

// BandPass keeps the cardiac band (0.5-4 Hz) with a difference of moving averages:
// a long average removes the baseline, a short one removes high-frequency noise.
func BandPass(x []float64, fs float64) []float64 {
	const lowCutoff, highCutoff = 0.5, 4.0

	lowWindow := int(fs / lowCutoff)
	if lowWindow > len(x)-1 {
		lowWindow = len(x) - 1
	}
	highWindow := int(fs / highCutoff)
	if highWindow < 3 {
		highWindow = 3
	}

	baseline := MovingAverage(x, lowWindow)
	high := make([]float64, len(x))
	for i, v := range x {
		high[i] = v - baseline[i]
	}
	return MovingAverage(high, highWindow)
}

// RemoveBaselineDrift subtracts a ~4 s moving average (respiration and slow motion).
// Signals shorter than the window are only mean-centred.
func RemoveBaselineDrift(x []float64, fs float64) []float64 {
	window := int(fs * 4)
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	if window >= len(x) {
		var mean float64
		for _, v := range x {
			mean += v
		}
		mean /= float64(len(x))
		for i, v := range x {
			out[i] = v - mean
		}
		return out
	}
	baseline := MovingAverage(x, window)
	for i, v := range x {
		out[i] = v - baseline[i]
	}
	return out
}
