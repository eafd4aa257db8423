// Package peaks detects heart beats: ECG R peaks, PPG systolic peaks transferred from
// them through the pulse transit time, and classical PPG-only detectors.
package peaks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dsp"
)

// ErrSignalTooShort is returned when a signal cannot hold a single beat.
var ErrSignalTooShort = errors.New("signal too short")

// RPeakOptions parameterises DetectRPeaks.
type RPeakOptions struct {
	LowHz         float64
	HighHz        float64
	SmoothSeconds float64 // gaussian sigma
	Percentile    float64 // energy threshold
	MinRRSeconds  float64
}

// RPeakOptionsFrom extracts the detector options from the label configuration.
func RPeakOptionsFrom(cfg config.LabelsConfig) RPeakOptions {
	return RPeakOptions{
		LowHz:         cfg.QRSLowHz,
		HighHz:        cfg.QRSHighHz,
		SmoothSeconds: cfg.SmoothSeconds,
		Percentile:    cfg.Percentile,
		MinRRSeconds:  cfg.MinRRSeconds,
	}
}

// DetectRPeaks finds QRS complexes in an ECG lead. The signal is band-passed to the
// QRS band, squared, smoothed with a gaussian and thresholded at a percentile of the
// resulting energy envelope.
func DetectRPeaks(ecg []float64, fs float64, opts RPeakOptions) ([]int, error) {
	if len(ecg) < 3 {
		return nil, fmt.Errorf("%w: %d samples", ErrSignalTooShort, len(ecg))
	}

	bp, err := dsp.NewButterworth(opts.LowHz, opts.HighHz, fs, 2)
	if err != nil {
		return nil, fmt.Errorf("qrs filter: %w", err)
	}
	filtered := bp.FiltFilt(ecg)

	energy := make([]float64, len(filtered))
	for i, v := range filtered {
		energy[i] = v * v
	}
	energy = dsp.GaussianFilter1D(energy, opts.SmoothSeconds*fs)

	return dsp.FindPeaks(energy, dsp.PeakOptions{
		Height:   dsp.Float(dsp.Percentile(energy, opts.Percentile)),
		Distance: int(opts.MinRRSeconds * fs),
	}), nil
}

// TransferToPPG locates, for every R peak, the PPG maximum inside the pulse transit
// window [r+pttMin, r+pttMax). Beats whose window runs past the end are dropped.
// The result is sorted and free of duplicates.
func TransferToPPG(rPeaks []int, ppg []float64, fs, pttMin, pttMax float64) []int {
	lo := int(pttMin * fs)
	hi := int(pttMax * fs)
	if hi <= lo {
		return nil
	}

	out := make([]int, 0, len(rPeaks))
	for _, r := range rPeaks {
		if r < 0 || r+hi >= len(ppg) {
			continue
		}
		out = append(out, r+lo+dsp.Argmax(ppg[r+lo:r+hi]))
	}
	return Normalize(out, len(ppg))
}

// Labels returns a binary target of length n with ones within halfWidth samples of
// every peak.
func Labels(n int, peaks []int, halfWidth int) []float64 {
	out := make([]float64, n)
	for _, p := range peaks {
		lo, hi := p-halfWidth, p+halfWidth+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		for i := lo; i < hi; i++ {
			out[i] = 1
		}
	}
	return out
}

// Normalize sorts peaks, drops duplicates and indices outside [0, n).
func Normalize(peaks []int, n int) []int {
	out := make([]int, 0, len(peaks))
	for _, p := range peaks {
		if p >= 0 && p < n {
			out = append(out, p)
		}
	}
	sort.Ints(out)

	uniq := out[:0]
	for i, p := range out {
		if i == 0 || p != out[i-1] {
			uniq = append(uniq, p)
		}
	}
	return uniq
}

// Result is the outcome of labelling one ECG/PPG pair.
type Result struct {
	RPeaks   []int
	PPGPeaks []int
	Labels   []float64
}

// Labeler turns synchronised ECG and PPG recordings into PPG peak labels.
type Labeler struct {
	opts      RPeakOptions
	pttMin    float64
	pttMax    float64
	halfWidth int
}

func NewLabeler(cfg config.LabelsConfig) *Labeler {
	return &Labeler{
		opts:      RPeakOptionsFrom(cfg),
		pttMin:    cfg.PTTMinSeconds,
		pttMax:    cfg.PTTMaxSeconds,
		halfWidth: cfg.LabelHalfWidth,
	}
}

// Label detects R peaks on ecg, transfers them onto ppg and builds the label array.
func (l *Labeler) Label(ecg, ppg []float64, fs float64) (Result, error) {
	r, err := DetectRPeaks(ecg, fs, l.opts)
	if err != nil {
		return Result{}, err
	}
	p := TransferToPPG(r, ppg, fs, l.pttMin, l.pttMax)
	return Result{
		RPeaks:   r,
		PPGPeaks: p,
		Labels:   Labels(len(ppg), p, l.halfWidth),
	}, nil
}
