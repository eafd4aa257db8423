package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// minPreprocessLength is the shortest signal Preprocess will clean.
const minPreprocessLength = 100

// Segment is a half-open sample range [Start, End).
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of samples in the segment.
func (s Segment) Len() int { return s.End - s.Start }

// DetectArtifacts splits x into 0.5 s blocks and flags runs of blocks whose
// peak-to-peak amplitude is below 30% or above 250% of the median block amplitude.
func DetectArtifacts(x []float64, fs float64) []Segment {
	block := int(fs * 0.5)
	if block < 1 || len(x) == 0 {
		return nil
	}

	var amps []float64
	for i := 0; i < len(x); i += block {
		end := i + block
		if end > len(x) {
			end = len(x)
		}
		seg := x[i:end]
		amps = append(amps, floats.Max(seg)-floats.Min(seg))
	}
	median := Median(amps)
	upper := median * 2.5
	lower := median * 0.3

	var out []Segment
	in := false
	start := 0
	for i, a := range amps {
		bad := a < lower || a > upper
		switch {
		case bad && !in:
			start = i * block
			in = true
		case !bad && in:
			out = append(out, Segment{Start: start, End: i * block})
			in = false
		}
	}
	if in {
		out = append(out, Segment{Start: start, End: len(x)})
	}
	return out
}

// InterpolateArtifacts bridges each interior artifact segment with a straight line
// between its neighbours. Segments touching either end of the signal are left as is.
func InterpolateArtifacts(x []float64, artifacts []Segment) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for _, a := range artifacts {
		if a.Start <= 0 || a.End >= len(x) || a.Len() <= 0 {
			continue
		}
		from, to := x[a.Start-1], x[a.End]
		n := float64(a.Len())
		for i := 0; i < a.Len(); i++ {
			out[a.Start+i] = from + (to-from)*float64(i)/n
		}
	}
	return out
}

// Cleaned is the output of Preprocess.
type Cleaned struct {
	Clean      []float64
	Normalized []float64
	Artifacts  []Segment
	// Quality is the percentage (0-100) of samples outside artifact segments.
	Quality int
}

// Preprocess normalises x to [0, 1], removes the wavelet baseline, denoises and
// rescales, then flags remaining artifacts and scores the signal quality.
func Preprocess(x []float64, fs float64) Cleaned {
	if len(x) < minPreprocessLength {
		cp := make([]float64, len(x))
		copy(cp, x)
		return Cleaned{Clean: cp, Normalized: cp}
	}

	normalized := MinMax(x)
	denoised := WaveletDenoise(RemoveBaselineWavelet(normalized), DenoiseLevels)
	clean := MinMax(denoised)
	artifacts := DetectArtifacts(clean, fs)

	bad := 0
	for _, a := range artifacts {
		bad += a.Len()
	}
	quality := int(math.Round((1 - float64(bad)/float64(len(x))) * 100))

	return Cleaned{
		Clean:      clean,
		Normalized: normalized,
		Artifacts:  artifacts,
		Quality:    quality,
	}
}

// PreprocessFast normalises, band-passes with moving averages and rescales.
func PreprocessFast(x []float64, fs float64) []float64 {
	if len(x) < minPreprocessLength {
		cp := make([]float64, len(x))
		copy(cp, x)
		return cp
	}
	return MinMax(BandPass(MinMax(x), fs))
}
