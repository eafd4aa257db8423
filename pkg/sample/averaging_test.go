package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pulsepeak/pkg/device"
)

func collect(out <-chan Sample) []Sample {
	var samples []Sample
	for s := range out {
		samples = append(samples, s)
	}
	return samples
}

func TestNewAveragingConverter(t *testing.T) {
	tests := []struct {
		name   string
		window int
		n      int
		wantIR []float64
	}{
		{"blocks of three", 3, 6, []float64{1100, 1400}},
		{"partial block flushed", 3, 5, []float64{1100, 1350}},
		{"no averaging", 0, 2, []float64{1000, 1100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make(chan device.RawSample, tt.n)
			now := time.Unix(0, 0)
			for i := 0; i < tt.n; i++ {
				in <- device.RawSample{
					Timestamp: now.Add(time.Duration(i) * time.Millisecond),
					IR:        uint32(1000 + i*100),
					Red:       500,
				}
			}
			close(in)

			samples := collect(NewAveragingConverter(tt.window, 10, nil)(in))
			require.Len(t, samples, len(tt.wantIR))
			for i, want := range tt.wantIR {
				assert.InDelta(t, want, samples[i].IR, 1e-9)
				assert.InDelta(t, 500, samples[i].Red, 1e-9)
				assert.InDelta(t, invert(want), samples[i].Value, 1e-12)
			}
		})
	}
}

func TestNewAveragingConverter_Timestamp(t *testing.T) {
	in := make(chan device.RawSample, 3)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		in <- device.RawSample{Timestamp: now.Add(time.Duration(i) * time.Second)}
	}
	close(in)

	samples := collect(NewAveragingConverter(3, 1, nil)(in))
	require.Len(t, samples, 1)
	assert.Equal(t, now.Add(time.Second), samples[0].Timestamp, "middle of the block")
}

func TestNewMovingAverage(t *testing.T) {
	in := make(chan Sample, 4)
	for i, v := range []float64{1, 2, 3, 4} {
		in <- Sample{Timestamp: time.Unix(int64(i), 0), Value: v, IR: 10 * v}
	}
	close(in)

	samples := collect(NewMovingAverage(2, 4)(in))
	require.Len(t, samples, 4)
	want := []float64{1, 1.5, 2.5, 3.5}
	for i := range want {
		assert.InDelta(t, want[i], samples[i].Value, 1e-12)
		assert.InDelta(t, 10*want[i], samples[i].IR, 1e-12)
		assert.Equal(t, time.Unix(int64(i), 0), samples[i].Timestamp)
	}
}

func TestAverageConvertedSamples_Empty(t *testing.T) {
	assert.Equal(t, Sample{}, averageConvertedSamples(nil))
	assert.Equal(t, Sample{}, averageRawSamples(nil))
}

func TestChain(t *testing.T) {
	tests := []struct {
		name      string
		averaging int
		smoothing int
		wantIR    []float64
	}{
		{"plain", 1, 1, []float64{10, 20, 30, 40}},
		{"averaging", 2, 1, []float64{15, 35}},
		{"smoothing", 1, 2, []float64{10, 15, 25, 35}},
		{"both", 2, 2, []float64{15, 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make(chan device.RawSample, 4)
			for i, ir := range []uint32{10, 20, 30, 40} {
				in <- device.RawSample{Timestamp: time.Unix(int64(i), 0), IR: ir}
			}
			close(in)

			samples := collect(Chain(tt.averaging, tt.smoothing, 4, nil)(in))
			require.Len(t, samples, len(tt.wantIR))
			for i, want := range tt.wantIR {
				assert.InDelta(t, want, samples[i].IR, 1e-9)
			}
		})
	}
}
