package peaks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/synth"
)

func recording(t *testing.T, seconds int) synth.Recording {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.Noise = 0
	return synth.Generate(cfg, int(cfg.SampleRate)*seconds)
}

// matched counts how many of want have a detection within tol samples.
func matched(want, got []int, tol int) int {
	n := 0
	for _, w := range want {
		for _, g := range got {
			if g-w <= tol && w-g <= tol {
				n++
				break
			}
		}
	}
	return n
}

func TestDetectRPeaks_Synthetic(t *testing.T) {
	rec := recording(t, 30)
	opts := RPeakOptionsFrom(config.Default().Labels)

	got, err := DetectRPeaks(rec.ECG, rec.SampleRate, opts)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, matched(rec.RPeaks, got, 3), len(rec.RPeaks)-1)
	assert.LessOrEqual(t, len(got), len(rec.RPeaks)+1)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i]-got[i-1], int(opts.MinRRSeconds*rec.SampleRate))
	}
}

func TestDetectRPeaks_Errors(t *testing.T) {
	opts := RPeakOptionsFrom(config.Default().Labels)

	_, err := DetectRPeaks([]float64{1, 2}, 125, opts)
	assert.ErrorIs(t, err, ErrSignalTooShort)

	opts.HighHz = 100
	_, err = DetectRPeaks(make([]float64, 500), 125, opts)
	assert.ErrorIs(t, err, dsp.ErrInvalidCutoff)
}

func TestTransferToPPG_Synthetic(t *testing.T) {
	rec := recording(t, 20)
	got := TransferToPPG(rec.RPeaks, rec.PPG, rec.SampleRate, 0.15, 0.35)
	require.NotEmpty(t, got)
	assert.Equal(t, len(got), matched(got, rec.PPGPeaks, 1))
}

func TestTransferToPPG_Bounds(t *testing.T) {
	fs := 100.0
	ppg := make([]float64, 100)
	ppg[30] = 1
	ppg[31] = 0.5

	// r=95 runs past the end, r=14 and r=15 land on the same maximum
	got := TransferToPPG([]int{14, 15, 95}, ppg, fs, 0.15, 0.35)
	assert.Equal(t, []int{30}, got)

	assert.Empty(t, TransferToPPG([]int{10}, ppg, fs, 0.35, 0.15))
	assert.Empty(t, TransferToPPG(nil, ppg, fs, 0.15, 0.35))
}

func TestLabels(t *testing.T) {
	got := Labels(10, []int{0, 5, 9}, 1)
	assert.Equal(t, []float64{1, 1, 0, 0, 1, 1, 1, 0, 1, 1}, got)
	assert.Equal(t, make([]float64, 4), Labels(4, nil, 3))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []int{1, 3, 7}, Normalize([]int{7, 3, 3, -1, 1, 10}, 10))
	assert.Empty(t, Normalize(nil, 10))
}

func TestLabeler(t *testing.T) {
	rec := recording(t, 30)
	l := NewLabeler(config.Default().Labels)

	res, err := l.Label(rec.ECG, rec.PPG, rec.SampleRate)
	require.NoError(t, err)
	require.Len(t, res.Labels, len(rec.PPG))
	assert.NotEmpty(t, res.RPeaks)
	assert.GreaterOrEqual(t, matched(rec.PPGPeaks, res.PPGPeaks, 3), len(rec.PPGPeaks)-2)

	var positives int
	for _, v := range res.Labels {
		if v == 1 {
			positives++
		}
	}
	assert.LessOrEqual(t, positives, len(res.PPGPeaks)*7)
	assert.Greater(t, positives, 0)
}

func TestDetectAuto(t *testing.T) {
	rec := recording(t, 30)
	raw := make([]float64, len(rec.PPG))
	for i, v := range rec.PPG {
		raw[i] = synth.Sensor(v, 120000, 4000)
	}
	signal := dsp.Normalize01Inverted(raw)

	got := DetectAuto(signal, rec.SampleRate, AutoOptionsFrom(config.Default().Annotation))
	assert.GreaterOrEqual(t, matched(rec.PPGPeaks, got, 1), len(rec.PPGPeaks)-1)
	assert.LessOrEqual(t, len(got), len(rec.PPGPeaks)+1)
}

func TestDetectAdaptive(t *testing.T) {
	rec := recording(t, 30)
	got := DetectAdaptive(rec.PPG, rec.SampleRate)
	assert.GreaterOrEqual(t, matched(rec.PPGPeaks, got, 2), len(rec.PPGPeaks)-2)
	assert.LessOrEqual(t, len(got), len(rec.PPGPeaks))

	assert.Nil(t, DetectAdaptive(make([]float64, 50), 125))
	assert.Nil(t, DetectAdaptive(rec.PPG, 0), "unknown sample rate")
}
