package dsp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq, fs, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/fs)
	}
	return out
}

func maxAbs(x []float64) float64 {
	var m float64
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func TestNanToMean(t *testing.T) {
	got := NanToMean([]float64{1, math.NaN(), 3})
	assert.Equal(t, []float64{1, 2, 3}, got)

	got = NanToMean([]float64{math.NaN(), math.NaN()})
	assert.Equal(t, []float64{0, 0}, got)
}

func TestZScore(t *testing.T) {
	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	z := ZScore(x)

	var mean float64
	for _, v := range z {
		mean += v
	}
	mean /= float64(len(z))
	assert.InDelta(t, 0, mean, 1e-9)
	// population std of x is 2
	assert.InDelta(t, -1.5, z[0], 1e-6)

	flat := ZScore([]float64{3, 3, 3})
	for _, v := range flat {
		assert.False(t, math.IsNaN(v))
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestMinMaxInvert(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, MinMax([]float64{2, 4, 6}))
	assert.Equal(t, []float64{0, 0}, MinMax([]float64{5, 5}))
	assert.Equal(t, []float64{1, 0.5, 0}, Normalize01Inverted([]float64{2, 4, 6}))
	assert.Empty(t, MinMax(nil))
}

func TestPercentile(t *testing.T) {
	five := []float64{5, 1, 4, 2, 3}
	ten := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	tests := []struct {
		name string
		x    []float64
		p    float64
		want float64
	}{
		{"min", five, 0, 1},
		{"max", five, 100, 5},
		{"median", five, 50, 3},
		{"p25", five, 25, 2},
		{"p70 interpolated", five, 70, 3.8},
		{"p70 of ten", ten, 70, 7.3},
		{"single", []float64{4}, 70, 4},
		{"clamped", five, 120, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.x, tt.p), 1e-12)
		})
	}
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, five, "input left unsorted")
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestArgmaxMedian(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float64{1, 3, 7, 2}))
	assert.Equal(t, -1, Argmax(nil))
	assert.Equal(t, 3.0, Median([]float64{5, 3, 1}))
}

func TestFindPeaks(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
		opts PeakOptions
		want []int
	}{
		{"simple", []float64{0, 1, 0, 2, 0, 3, 0}, PeakOptions{}, []int{1, 3, 5}},
		{"odd plateau", []float64{0, 1, 1, 1, 0}, PeakOptions{}, []int{2}},
		{"even plateau", []float64{0, 1, 1, 0}, PeakOptions{}, []int{1}},
		{"plateau at edge is not a peak", []float64{0, 1, 1}, PeakOptions{}, nil},
		{"edges never peak", []float64{3, 0, 0, 3}, PeakOptions{}, nil},
		{"height", []float64{0, 1, 0, 2, 0, 3, 0}, PeakOptions{Height: Float(1.5)}, []int{3, 5}},
		{"distance keeps tallest", []float64{0, 1, 0, 2, 0, 3, 0}, PeakOptions{Distance: 3}, []int{1, 5}},
		{"prominence", []float64{0, 3, 2, 2.5, 0}, PeakOptions{Prominence: Float(1)}, []int{1}},
		{"empty", nil, PeakOptions{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindPeaks(tt.x, tt.opts)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProminences(t *testing.T) {
	x := []float64{0, 3, 2, 2.5, 0}
	prom := Prominences(x, []int{1, 3})
	assert.InDeltaSlice(t, []float64{3, 0.5}, prom, 1e-12)
}

func TestFindPeaks_SineBeats(t *testing.T) {
	fs := 125.0
	x := sine(1250, 1.2, fs, 1) // 12 cycles
	peaks := FindPeaks(x, PeakOptions{Height: Float(0.5), Distance: int(0.4 * fs)})
	assert.Len(t, peaks, 12)
	for i := 1; i < len(peaks); i++ {
		assert.InDelta(t, fs/1.2, float64(peaks[i]-peaks[i-1]), 1.5)
	}
}

func TestReflectIndex(t *testing.T) {
	assert.Equal(t, 0, reflectIndex(-1, 4))
	assert.Equal(t, 1, reflectIndex(-2, 4))
	assert.Equal(t, 3, reflectIndex(4, 4))
	assert.Equal(t, 2, reflectIndex(5, 4))
	assert.Equal(t, 2, reflectIndex(2, 4))
	assert.Equal(t, 0, reflectIndex(7, 1))
}

func TestGaussianFilter1D(t *testing.T) {
	flat := GaussianFilter1D([]float64{2, 2, 2, 2, 2, 2}, 1.5)
	assert.InDeltaSlice(t, []float64{2, 2, 2, 2, 2, 2}, flat, 1e-12)

	impulse := make([]float64, 101)
	impulse[50] = 1
	smoothed := GaussianFilter1D(impulse, 2.5)
	var sum float64
	for _, v := range smoothed {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)
	assert.Less(t, smoothed[50], 0.2)
	assert.Equal(t, 50, Argmax(smoothed))
	assert.InDelta(t, smoothed[48], smoothed[52], 1e-12)

	assert.Equal(t, []float64{1, 2}, GaussianFilter1D([]float64{1, 2}, 0))
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{1, 2, 3, 4, 5}, 3)
	assert.InDeltaSlice(t, []float64{1.5, 2, 3, 4, 4.5}, got, 1e-12)
	assert.Empty(t, MovingAverage(nil, 3))
}

func TestNewButterworth_Invalid(t *testing.T) {
	_, err := NewButterworth(5, 70, 125, 1)
	assert.ErrorIs(t, err, ErrInvalidCutoff)
	_, err = NewButterworth(0, 25, 125, 1)
	assert.ErrorIs(t, err, ErrInvalidCutoff)
	_, err = NewButterworth(25, 5, 125, 1)
	assert.ErrorIs(t, err, ErrInvalidCutoff)
}

func TestButterworth_FiltFilt(t *testing.T) {
	fs := 125.0
	bp, err := NewButterworth(5, 25, fs, 1)
	require.NoError(t, err)

	n := 2500
	inBand := bp.FiltFilt(sine(n, 10, fs, 1))
	drift := bp.FiltFilt(sine(n, 0.3, fs, 1))
	require.Len(t, inBand, n)

	mid := func(x []float64) []float64 { return x[500 : n-500] }
	assert.Greater(t, maxAbs(mid(inBand)), 0.4)
	assert.Less(t, maxAbs(mid(drift)), 0.1)

	// zero phase: filtered in-band peaks line up with the input peaks
	ref := sine(n, 10, fs, 1)
	peaksIn := FindPeaks(mid(ref), PeakOptions{Height: Float(0.5)})
	peaksOut := FindPeaks(mid(inBand), PeakOptions{Height: Float(0.2)})
	require.NotEmpty(t, peaksOut)
	assert.InDelta(t, peaksIn[0], peaksOut[0], 1)

	assert.Nil(t, bp.FiltFilt(nil))
	assert.Len(t, bp.Apply(ref), n)
}

func TestBandPass(t *testing.T) {
	fs := 100.0
	x := sine(1000, 1.2, fs, 1)
	for i := range x {
		x[i] += 5
	}
	out := BandPass(x, fs)
	require.Len(t, out, len(x))
	var mean float64
	for _, v := range out[200:800] {
		mean += v
	}
	mean /= 600
	assert.InDelta(t, 0, mean, 0.1)
}

func TestRemoveBaselineDrift(t *testing.T) {
	short := RemoveBaselineDrift([]float64{1, 2, 3}, 125)
	assert.InDeltaSlice(t, []float64{-1, 0, 1}, short, 1e-12)

	fs := 50.0
	x := sine(1000, 2, fs, 1)
	for i := range x {
		x[i] += 0.01 * float64(i)
	}
	out := RemoveBaselineDrift(x, fs)
	assert.InDelta(t, 0, out[500], 1.2)
	assert.Less(t, math.Abs(out[900]), 2.0)
}

func TestResample(t *testing.T) {
	x := sine(100, 2, 100, 1)

	down := Resample(x, 50)
	require.Len(t, down, 50)
	assert.InDeltaSlice(t, sine(50, 2, 50, 1), down, 1e-9)

	up := Resample(down, 100)
	require.Len(t, up, 100)
	assert.InDeltaSlice(t, x, up, 1e-9)

	assert.Empty(t, Resample(x, 0))
	assert.Empty(t, Resample(nil, 10))
	assert.Equal(t, x, Resample(x, 100))
}

func TestResampleRate(t *testing.T) {
	x := make([]float64, 757*2)
	out := ResampleRate(x, 757, 125)
	assert.Len(t, out, 250)
	assert.Empty(t, ResampleRate(x, 0, 125))
}

func TestWaveletDenoise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	clean := sine(1024, 1.5, 125, 1)
	noisy := make([]float64, len(clean))
	for i := range noisy {
		noisy[i] = clean[i] + 0.1*rng.NormFloat64()
	}

	mse := func(a []float64) float64 {
		var s float64
		for i := range a {
			d := a[i] - clean[i]
			s += d * d
		}
		return s / float64(len(a))
	}

	out := WaveletDenoise(noisy, DenoiseLevels)
	require.Len(t, out, len(noisy))
	assert.Less(t, mse(out), mse(noisy))

	short := []float64{1, 2, 3}
	assert.Equal(t, short, WaveletDenoise(short, DenoiseLevels))
}

func TestHaarRoundTrip(t *testing.T) {
	x := []float64{1, 4, 2, 8, 5, 7, 3}
	approx, stack, lengths := decompose(x, 3)
	assert.InDeltaSlice(t, x, reconstruct(approx, stack, lengths), 1e-12)
}

func TestWaveletBaseline(t *testing.T) {
	x := sine(1024, 5, 125, 1)
	for i := range x {
		x[i] += 5
	}
	out := RemoveBaselineWavelet(x)
	require.Len(t, out, len(x))
	var mean float64
	for _, v := range out {
		mean += v
	}
	assert.InDelta(t, 0, mean/float64(len(out)), 1e-9)

	short := []float64{1, 2, 3}
	assert.Equal(t, short, RemoveBaselineWavelet(short))
}

func TestDetectAndInterpolateArtifacts(t *testing.T) {
	fs := 100.0
	x := sine(1000, 1, fs, 1)
	for i := 500; i < 600; i++ {
		x[i] *= 10
	}

	artifacts := DetectArtifacts(x, fs)
	require.Len(t, artifacts, 1)
	assert.Equal(t, Segment{Start: 500, End: 600}, artifacts[0])
	assert.Equal(t, 100, artifacts[0].Len())

	fixed := InterpolateArtifacts(x, artifacts)
	from, to := x[499], x[600]
	assert.InDelta(t, from, fixed[500], 1e-12)
	assert.InDelta(t, from+(to-from)*0.5, fixed[550], 1e-12)
	assert.Equal(t, x[0:500], fixed[0:500])

	edge := InterpolateArtifacts(x, []Segment{{Start: 0, End: 10}})
	assert.Equal(t, x, edge)

	assert.Nil(t, DetectArtifacts(nil, fs))
}

func TestPreprocess(t *testing.T) {
	short := Preprocess([]float64{1, 2, 3}, 125)
	assert.Equal(t, 0, short.Quality)
	assert.Equal(t, []float64{1, 2, 3}, short.Clean)

	fs := 125.0
	x := sine(1250, 1.2, fs, 1000)
	for i := range x {
		x[i] += 100000
	}
	res := Preprocess(x, fs)
	require.Len(t, res.Clean, len(x))
	assert.GreaterOrEqual(t, res.Quality, 70)
	assert.LessOrEqual(t, res.Quality, 100)
	assert.InDelta(t, 0, res.Normalized[0]-MinMax(x)[0], 1e-12)

	fast := PreprocessFast(x, fs)
	require.Len(t, fast, len(x))
	for _, v := range fast {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
