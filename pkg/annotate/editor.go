// Package annotate holds the manual peak correction logic shared by the web API
// and the desktop annotator.
package annotate

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/hrv"
	"github.com/itohio/pulsepeak/pkg/infer"
	"github.com/itohio/pulsepeak/pkg/peaks"
)

var (
	ErrOutOfRange = errors.New("time outside the signal")
	ErrNoHistory  = errors.New("nothing to undo")
)

// Method selects an automatic detector.
type Method string

const (
	MethodAuto     Method = "auto"
	MethodAdaptive Method = "adaptive"
)

type Options struct {
	RemoveSeconds float64
	SnapSeconds   float64
	MinHR         float64
	Auto          peaks.AutoOptions
	History       int
}

func OptionsFrom(cfg config.AnnotationConfig) Options {
	return Options{
		RemoveSeconds: cfg.RemoveSeconds,
		SnapSeconds:   cfg.SnapSeconds,
		MinHR:         cfg.MinHR,
		Auto:          peaks.AutoOptionsFrom(cfg),
		History:       cfg.History,
	}
}

// Summary describes the current annotation of a session.
type Summary struct {
	Samples   int         `json:"samples"`
	Duration  float64     `json:"duration_s"`
	Peaks     int         `json:"peaks"`
	HR        float64     `json:"hr_bpm"`
	SDNN      float64     `json:"sdnn_ms"`
	HRV       hrv.Metrics `json:"hrv"`
	Quality   int         `json:"quality"`
	Plausible bool        `json:"plausible"`
}

// Editor holds one session's preprocessed signal and its editable peak list.
// Peaks are always sorted, unique and inside the signal. Editor is not safe for
// concurrent use.
type Editor struct {
	opts    Options
	fs      float64
	signal  []float64
	quality int
	peaks   []int
	history [][]int
}

// NewEditor normalises raw to [0, 1], inverts it so that systolic peaks point up
// and runs the automatic detector.
func NewEditor(raw []float64, fs float64, opts Options) *Editor {
	signal := dsp.Normalize01Inverted(dsp.NanToMean(raw))
	e := &Editor{
		opts:    opts,
		fs:      fs,
		signal:  signal,
		quality: dsp.Preprocess(signal, fs).Quality,
	}
	e.peaks = e.detect(MethodAuto)
	return e
}

func (e *Editor) Signal() []float64   { return e.signal }
func (e *Editor) SampleRate() float64 { return e.fs }

// Duration in seconds.
func (e *Editor) Duration() float64 {
	if e.fs <= 0 {
		return 0
	}
	return float64(len(e.signal)) / e.fs
}

// Peaks returns a copy of the current peak indices.
func (e *Editor) Peaks() []int {
	return slices.Clone(e.peaks)
}

// PeakTimes returns the current peaks in seconds.
func (e *Editor) PeakTimes() []float64 {
	out := make([]float64, len(e.peaks))
	for i, p := range e.peaks {
		out[i] = float64(p) / e.fs
	}
	return out
}

func (e *Editor) detect(m Method) []int {
	switch m {
	case MethodAdaptive:
		return peaks.DetectAdaptive(e.signal, e.fs)
	default:
		return peaks.DetectAuto(e.signal, e.fs, e.opts.Auto)
	}
}

// Detect replaces the peaks with the result of the automatic detector.
func (e *Editor) Detect(m Method) []int {
	e.set(e.detect(m))
	return e.Peaks()
}

// DetectModel runs a trained model on the session resampled to modelFS and maps
// the detected peaks back onto the session's samples.
func (e *Editor) DetectModel(d *infer.Detector, modelFS float64) ([]int, error) {
	res, err := d.Detect(infer.Prepare(e.signal, e.fs, modelFS))
	if err != nil {
		return nil, err
	}
	mapped := make([]int, 0, len(res.Peaks))
	for _, p := range res.Peaks {
		idx := int(math.Round(float64(p) * e.fs / modelFS))
		if snapped, ok := e.snap(idx); ok {
			mapped = append(mapped, snapped)
		}
	}
	e.set(mapped)
	return e.Peaks(), nil
}

// SetPeaks replaces the peak list.
func (e *Editor) SetPeaks(p []int) {
	e.set(p)
}

func (e *Editor) set(p []int) {
	e.push()
	e.peaks = peaks.Normalize(p, len(e.signal))
}

func (e *Editor) push() {
	e.history = append(e.history, slices.Clone(e.peaks))
	if e.opts.History > 0 && len(e.history) > e.opts.History {
		e.history = e.history[len(e.history)-e.opts.History:]
	}
}

// Undo restores the peaks before the last change.
func (e *Editor) Undo() error {
	if len(e.history) == 0 {
		return ErrNoHistory
	}
	e.peaks = e.history[len(e.history)-1]
	e.history = e.history[:len(e.history)-1]
	return nil
}

// CanUndo reports whether Undo has anything to restore.
func (e *Editor) CanUndo() bool { return len(e.history) > 0 }

// EditKind tells what a Toggle did.
type EditKind string

const (
	EditNone    EditKind = "none"
	EditAdded   EditKind = "add"
	EditRemoved EditKind = "remove"
)

type Edit struct {
	Kind  EditKind `json:"kind"`
	Index int      `json:"index"`
}

// Toggle handles a click at t seconds: the nearest peak is removed when it lies
// closer than RemoveSeconds, otherwise the local maximum within SnapSeconds of the
// click is added unless it already is a peak.
func (e *Editor) Toggle(t float64) (Edit, error) {
	if t < 0 || t >= e.Duration() {
		return Edit{Kind: EditNone}, fmt.Errorf("%w: %.3f s, duration %.3f s", ErrOutOfRange, t, e.Duration())
	}
	click := int(t * e.fs)

	if len(e.peaks) > 0 {
		nearest, dist := 0, math.MaxInt
		for i, p := range e.peaks {
			if d := abs(p - click); d < dist {
				nearest, dist = i, d
			}
		}
		if float64(dist) < e.fs*e.opts.RemoveSeconds {
			removed := e.peaks[nearest]
			e.push()
			e.peaks = slices.Delete(slices.Clone(e.peaks), nearest, nearest+1)
			return Edit{Kind: EditRemoved, Index: removed}, nil
		}
	}

	idx, ok := e.snap(click)
	if !ok {
		return Edit{Kind: EditNone}, fmt.Errorf("%w: %.3f s", ErrOutOfRange, t)
	}
	if _, found := slices.BinarySearch(e.peaks, idx); found {
		return Edit{Kind: EditNone, Index: idx}, nil
	}
	e.set(append(slices.Clone(e.peaks), idx))
	return Edit{Kind: EditAdded, Index: idx}, nil
}

// snap returns the position of the maximum of signal in [c-w, c+w).
func (e *Editor) snap(c int) (int, bool) {
	w := int(e.fs * e.opts.SnapSeconds)
	start := max(0, c-w)
	end := min(len(e.signal), c+w)
	if w == 0 {
		end = min(len(e.signal), c+1)
	}
	if start >= end {
		return 0, false
	}
	return start + dsp.Argmax(e.signal[start:end]), true
}

// Summary reports heart rate statistics of the current peaks.
func (e *Editor) Summary() Summary {
	s := hrv.Summarize(e.peaks, e.fs)
	out := Summary{
		Samples:  len(e.signal),
		Duration: e.Duration(),
		Peaks:    len(e.peaks),
		HR:       s.HR,
		SDNN:     s.SDNN,
		HRV:      hrv.Analyze(e.peaks, e.fs),
		Quality:  e.quality,
	}
	out.Plausible = s.HR > 0 && s.HR >= e.opts.MinHR && (e.opts.Auto.MaxHR <= 0 || s.HR <= e.opts.Auto.MaxHR)
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
