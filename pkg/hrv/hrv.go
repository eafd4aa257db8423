// Package hrv computes heart rate variability metrics from beat positions.
package hrv

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// MinRRMs and MaxRRMs bound physiologically plausible intervals (30-200 bpm).
	MinRRMs = 300.0
	MaxRRMs = 2000.0

	// MinIntervals is the minimum number of filtered intervals for Compute.
	MinIntervals = 5

	nn50Ms = 50.0
)

// Metrics holds time-domain HRV measures. Values are rounded to one decimal.
type Metrics struct {
	BPM   float64 `json:"bpm"`
	SDNN  float64 `json:"sdnn"`
	RMSSD float64 `json:"rmssd"`
	PNN50 float64 `json:"pnn50"`
	Count int     `json:"count"`
}

// Valid reports whether enough intervals were available.
func (m Metrics) Valid() bool { return m.Count >= MinIntervals }

// RRIntervals returns successive peak distances in milliseconds.
func RRIntervals(peaks []int, fs float64) []float64 {
	if len(peaks) < 2 || fs <= 0 {
		return nil
	}
	out := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		out[i-1] = float64(peaks[i]-peaks[i-1]) / fs * 1000
	}
	return out
}

// FilteredRR returns RRIntervals restricted to [MinRRMs, MaxRRMs].
func FilteredRR(peaks []int, fs float64) []float64 {
	var out []float64
	for _, rr := range RRIntervals(peaks, fs) {
		if rr >= MinRRMs && rr <= MaxRRMs {
			out = append(out, rr)
		}
	}
	return out
}

// Compute derives metrics from RR intervals in milliseconds. Fewer than
// MinIntervals intervals yield zero metrics carrying only the count.
func Compute(rr []float64) Metrics {
	if len(rr) < MinIntervals {
		return Metrics{Count: len(rr)}
	}

	mean, sdnn := stat.PopMeanStdDev(rr, nil)

	var sumSq float64
	var nn50 int
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		sumSq += d * d
		if math.Abs(d) > nn50Ms {
			nn50++
		}
	}
	diffs := float64(len(rr) - 1)

	return Metrics{
		BPM:   round1(60000 / mean),
		SDNN:  round1(sdnn),
		RMSSD: round1(math.Sqrt(sumSq / diffs)),
		PNN50: round1(float64(nn50) / diffs * 100),
		Count: len(rr),
	}
}

// Analyze is Compute over the filtered intervals of a peak list.
func Analyze(peaks []int, fs float64) Metrics {
	return Compute(FilteredRR(peaks, fs))
}

// Summary is the heart rate report of a detection run.
type Summary struct {
	Beats   int     `json:"beats"`
	HR      float64 `json:"hr_bpm"`
	SDNN    float64 `json:"sdnn_ms"`
	MeanRR  float64 `json:"mean_rr_ms"`
	Quality int     `json:"quality,omitempty"`
}

// Summarize reports heart rate (60000 / mean RR) and SDNN over the unfiltered intervals.
// HR and SDNN are zero with fewer than two peaks.
func Summarize(peaks []int, fs float64) Summary {
	s := Summary{Beats: len(peaks)}
	rr := RRIntervals(peaks, fs)
	if len(rr) == 0 {
		return s
	}
	s.MeanRR = floats.Sum(rr) / float64(len(rr))
	_, s.SDNN = stat.PopMeanStdDev(rr, nil)
	if s.MeanRR > 0 {
		s.HR = 60000 / s.MeanRR
	}
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
