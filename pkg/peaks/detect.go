package peaks

import (
	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dsp"
)

// AutoOptions parameterises DetectAuto.
type AutoOptions struct {
	MaxHR      float64 // bounds the minimum peak distance
	Height     float64
	Prominence float64
}

// AutoOptionsFrom extracts the automatic detector options from the annotation configuration.
func AutoOptionsFrom(cfg config.AnnotationConfig) AutoOptions {
	return AutoOptions{
		MaxHR:      cfg.MaxHR,
		Height:     cfg.Height,
		Prominence: cfg.Prominence,
	}
}

// DetectAuto finds systolic peaks in a signal normalised to [0, 1].
func DetectAuto(signal []float64, fs float64, opts AutoOptions) []int {
	distance := 1
	if opts.MaxHR > 0 {
		distance = int(fs * 60 / opts.MaxHR)
	}
	return dsp.FindPeaks(signal, dsp.PeakOptions{
		Height:     dsp.Float(opts.Height),
		Distance:   distance,
		Prominence: dsp.Float(opts.Prominence),
	})
}

// DetectAdaptive finds peaks with a local threshold halfway between the mean and the
// maximum of a ±2 s neighbourhood. It needs no trained model and tolerates slow
// amplitude changes.
func DetectAdaptive(signal []float64, fs float64) []int {
	if len(signal) < 100 || fs <= 0 {
		return nil
	}

	minDistance := int(fs * 0.4)
	window := int(fs * 2)
	smoothed := dsp.MovingAverage(dsp.MinMax(signal), int(fs/50))

	prefix := make([]float64, len(smoothed)+1)
	for i, v := range smoothed {
		prefix[i+1] = prefix[i] + v
	}

	var out []int
	for i := minDistance; i < len(smoothed)-minDistance; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window
		if hi > len(smoothed) {
			hi = len(smoothed)
		}
		mean := (prefix[hi] - prefix[lo]) / float64(hi-lo)
		max := smoothed[lo]
		for _, v := range smoothed[lo:hi] {
			if v > max {
				max = v
			}
		}
		if smoothed[i] <= mean+(max-mean)*0.5 {
			continue
		}

		isPeak := true
		for j := i - minDistance/2; j <= i+minDistance/2; j++ {
			if j != i && j >= 0 && j < len(smoothed) && smoothed[j] > smoothed[i] {
				isPeak = false
				break
			}
		}
		if !isPeak {
			continue
		}
		if len(out) == 0 || i-out[len(out)-1] >= minDistance {
			out = append(out, i)
		}
	}
	return out
}
