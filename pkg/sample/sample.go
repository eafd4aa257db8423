// Package sample turns raw sensor readings into normalised PPG samples.
package sample

import (
	"time"

	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/device"
)

// Sample is a processed optical reading.
type Sample struct {
	Timestamp time.Time
	IR        float64 // raw IR counts
	Red       float64 // raw red counts
	// Value is the IR reading inverted and scaled to the sensor's full range, so
	// that more blood (less reflected light) reads higher.
	Value float64
}

// Converter is a function type that converts RawSample channel to Sample channel.
type Converter func(in <-chan device.RawSample) <-chan Sample

// NewConverter creates a converter function that transforms RawSample to Sample.
func NewConverter(bufSize int, log *zap.Logger) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	return func(in <-chan device.RawSample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for raw := range in {
				select {
				case out <- convertSample(raw):
				case <-time.After(time.Second):
					log.Warn("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

func convertSample(raw device.RawSample) Sample {
	return Sample{
		Timestamp: raw.Timestamp,
		IR:        float64(raw.IR),
		Red:       float64(raw.Red),
		Value:     invert(float64(raw.IR)),
	}
}

func invert(ir float64) float64 {
	return 1 - ir/device.MaxReading
}

// Values returns the Value of every sample.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// IRValues returns the raw IR counts of every sample.
func IRValues(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.IR
	}
	return out
}

// Rate estimates the sample rate in Hz from the first and last timestamps.
// It returns 0 for fewer than two samples or a non-increasing clock.
func Rate(samples []Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	span := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)
	if span <= 0 {
		return 0
	}
	return float64(len(samples)-1) / span.Seconds()
}
