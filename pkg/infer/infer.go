// Package infer runs the trained peak model over recordings of arbitrary length.
package infer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/hrv"
	"github.com/itohio/pulsepeak/pkg/peaks"
	"github.com/itohio/pulsepeak/pkg/performer"
)

// ErrSignalTooShort is returned for signals shorter than one model window.
var ErrSignalTooShort = peaks.ErrSignalTooShort

type Options struct {
	SampleRate     float64
	StrideDivisor  int
	Threshold      float64
	MinPeakSeconds float64
	BatchSize      int
}

func OptionsFrom(cfg config.InferenceConfig, sampleRate float64) Options {
	return Options{
		SampleRate:     sampleRate,
		StrideDivisor:  cfg.StrideDivisor,
		Threshold:      cfg.Threshold,
		MinPeakSeconds: cfg.MinPeakSeconds,
		BatchSize:      cfg.BatchSize,
	}
}

// Result of a detection run.
type Result struct {
	SampleRate    float64     `json:"sample_rate"`
	Probabilities []float64   `json:"probabilities"`
	Peaks         []int       `json:"peaks"`
	Summary       hrv.Summary `json:"summary"`
	HRV           hrv.Metrics `json:"hrv"`
}

// Detector slides the model over a signal sampled at the model's rate.
type Detector struct {
	model *performer.Model
	opts  Options
	log   *zap.Logger
}

func NewDetector(model *performer.Model, opts Options, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.StrideDivisor <= 0 {
		opts.StrideDivisor = 1
	}
	return &Detector{model: model, opts: opts, log: log}
}

// Starts returns the window offsets used for a signal of n samples: 0, stride, ...
// while a full window fits, plus a final window aligned to the end of the signal
// when the regular grid leaves a tail uncovered.
func Starts(n, window, stride int) []int {
	if n < window || window <= 0 {
		return nil
	}
	if stride <= 0 {
		stride = 1
	}
	var out []int
	for s := 0; s+window <= n; s += stride {
		out = append(out, s)
	}
	if last := out[len(out)-1]; last+window < n {
		out = append(out, n-window)
	}
	return out
}

// Probabilities returns the per-sample peak probability. Each window is z-scored
// independently and overlapping predictions are averaged.
func (d *Detector) Probabilities(signal []float64) ([]float64, error) {
	window := d.model.Config().Window
	if len(signal) < window {
		return nil, fmt.Errorf("%w: %d samples, window is %d", ErrSignalTooShort, len(signal), window)
	}
	starts := Starts(len(signal), window, window/d.opts.StrideDivisor)

	x := make([][]float64, len(starts))
	for i, s := range starts {
		x[i] = dsp.ZScore(signal[s : s+window])
	}
	pred, err := d.model.Predict(x, d.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	sum := make([]float64, len(signal))
	counts := make([]float64, len(signal))
	for i, s := range starts {
		for j, p := range pred[i] {
			sum[s+j] += p
			counts[s+j]++
		}
	}
	for i := range sum {
		sum[i] /= max(counts[i], 1)
	}
	d.log.Debug("Sliding inference", zap.Int("samples", len(signal)), zap.Int("windows", len(starts)))
	return sum, nil
}

// PeaksFrom extracts peaks from a probability curve: local maxima at least
// Threshold high and MinPeakSeconds apart.
func (d *Detector) PeaksFrom(probs []float64) []int {
	return dsp.FindPeaks(probs, dsp.PeakOptions{
		Height:   dsp.Float(d.opts.Threshold),
		Distance: int(d.opts.MinPeakSeconds * d.opts.SampleRate),
	})
}

// Detect runs the model and extracts peaks and heart rate statistics.
func (d *Detector) Detect(signal []float64) (*Result, error) {
	probs, err := d.Probabilities(signal)
	if err != nil {
		return nil, err
	}
	p := d.PeaksFrom(probs)
	return &Result{
		SampleRate:    d.opts.SampleRate,
		Probabilities: probs,
		Peaks:         p,
		Summary:       hrv.Summarize(p, d.opts.SampleRate),
		HRV:           hrv.Analyze(p, d.opts.SampleRate),
	}, nil
}
