package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_BeatsMatchHeartRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Variation = 0
	cfg.Noise = 0
	rec := Generate(cfg, 125*30)

	require.Len(t, rec.ECG, 125*30)
	require.Len(t, rec.PPG, 125*30)
	// 72 bpm over 30 s starting at 0.5 s
	assert.InDelta(t, 36, len(rec.RPeaks), 1)
	require.NotEmpty(t, rec.PPGPeaks)

	for i := 1; i < len(rec.RPeaks); i++ {
		assert.InDelta(t, 125*60.0/72, float64(rec.RPeaks[i]-rec.RPeaks[i-1]), 1)
	}
}

func TestGenerate_PPGLagsECG(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Noise = 0
	rec := Generate(cfg, 125*20)

	lag := int(cfg.PTT * cfg.SampleRate)
	for i, r := range rec.RPeaks {
		if i >= len(rec.PPGPeaks) {
			break
		}
		assert.InDelta(t, r+lag, rec.PPGPeaks[i], 1)
	}
}

func TestGenerate_RPeakIsLocalMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Noise = 0
	rec := Generate(cfg, 125*10)
	for _, r := range rec.RPeaks {
		if r == 0 || r == len(rec.ECG)-1 {
			continue
		}
		assert.Greater(t, rec.ECG[r], rec.ECG[r-1])
		assert.Greater(t, rec.ECG[r], rec.ECG[r+1])
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(DefaultConfig(), 500)
	b := Generate(DefaultConfig(), 500)
	assert.Equal(t, a.PPG, b.PPG)
	assert.Equal(t, a.RPeaks, b.RPeaks)
}

func TestNewGenerator_Defaults(t *testing.T) {
	g := NewGenerator(Config{})
	assert.Equal(t, 125.0, g.SampleRate())
	for i := 0; i < 1000; i++ {
		g.Next()
	}
	assert.LessOrEqual(t, len(g.beats), 10, "old beats are dropped")
}

func TestSensor(t *testing.T) {
	assert.Equal(t, 96000.0, Sensor(1, 100000, 4000))
}
