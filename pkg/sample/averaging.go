package sample

import (
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/device"
)

// NewAveragingConverter creates a converter that averages blocks of windowSize
// consecutive RawSamples into one Sample, reducing both noise and the sample
// rate by windowSize. A trailing partial block is flushed when the input closes.
func NewAveragingConverter(windowSize int, bufSize int, log *zap.Logger) Converter {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
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

			buffer := make([]device.RawSample, 0, windowSize)
			for raw := range in {
				buffer = append(buffer, raw)
				if len(buffer) < windowSize {
					continue
				}
				out <- averageRawSamples(buffer)
				buffer = buffer[:0]
			}
			if len(buffer) > 0 {
				out <- averageRawSamples(buffer)
			}
		}()

		return out
	}
}

// averageRawSamples averages a block and converts it. The timestamp is the one of
// the middle sample.
func averageRawSamples(samples []device.RawSample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}

	var sumIR, sumRed float64
	for _, s := range samples {
		sumIR += float64(s.IR)
		sumRed += float64(s.Red)
	}

	n := float64(len(samples))
	return Sample{
		Timestamp: samples[len(samples)/2].Timestamp,
		IR:        sumIR / n,
		Red:       sumRed / n,
		Value:     invert(sumIR / n),
	}
}

// NewMovingAverage smooths already converted Samples over the last windowSize
// samples. Unlike NewAveragingConverter it keeps the sample rate.
func NewMovingAverage(windowSize int, bufSize int) func(in <-chan Sample) <-chan Sample {
	if windowSize <= 0 {
		windowSize = 1
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var buffer []Sample
			for s := range in {
				buffer = append(buffer, s)
				if len(buffer) > windowSize {
					buffer = buffer[1:]
				}
				avg := averageConvertedSamples(buffer)
				avg.Timestamp = s.Timestamp
				out <- avg
			}
		}()

		return out
	}
}

// averageConvertedSamples averages a slice of converted Samples.
func averageConvertedSamples(samples []Sample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}

	var sumIR, sumRed, sumValue float64
	for _, s := range samples {
		sumIR += s.IR
		sumRed += s.Red
		sumValue += s.Value
	}

	n := float64(len(samples))
	return Sample{
		Timestamp: samples[len(samples)-1].Timestamp,
		IR:        sumIR / n,
		Red:       sumRed / n,
		Value:     sumValue / n,
	}
}

// Chain builds the converter used in front of the monitor: block averaging when
// averaging > 1, then a moving average when smoothing > 1.
func Chain(averaging, smoothing, bufSize int, log *zap.Logger) Converter {
	convert := NewConverter(bufSize, log)
	if averaging > 1 {
		convert = NewAveragingConverter(averaging, bufSize, log)
	}
	if smoothing <= 1 {
		return convert
	}
	smooth := NewMovingAverage(smoothing, bufSize)
	return func(in <-chan device.RawSample) <-chan Sample {
		return smooth(convert(in))
	}
}
