// Package scope provides an oscilloscope-style Fyne widget for PPG traces.
package scope

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/pulsepeak/pkg/sample"
)

// Trace is what the scope displays. Signal, Slope and Probabilities share the
// sample rate; Peaks index into Signal.
type Trace struct {
	Signal        []float64
	SampleRate    float64
	Start         float64 // time of Signal[0] in seconds
	Peaks         []int
	Probabilities []float64 // optional, drawn on a fixed [0, 1] scale
	Slope         []float64 // optional, scaled onto the signal range
	Label         string    // overlay text, e.g. heart rate
}

// Duration of the trace in seconds.
func (t Trace) Duration() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(len(t.Signal)) / t.SampleRate
}

type point struct {
	t, v float64
}

// ScopeWidget is a custom Fyne widget that displays a PPG trace with its peaks.
// Tapping the plot reports the time under the pointer.
type ScopeWidget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu      sync.RWMutex
	trace   Trace
	signal  []point
	slope   []point
	probs   []point
	peaks   []point
	view    viewport
	zoomed  bool
	onTap   func(seconds float64)
	minSpan float64

	// Display settings
	maxDisplayPoints int
}

// New creates a new ScopeWidget. minSpan is the shortest time span shown, so
// that a filling live buffer does not stretch across the plot.
func New(minSpan float64) *ScopeWidget {
	s := &ScopeWidget{
		maxDisplayPoints: 2000,
		minSpan:          minSpan,
	}
	s.view = s.autoScale()
	s.ExtendBaseWidget(s)
	return s
}

// SetTrace replaces the displayed data. It may be called from any goroutine; the
// redraw itself is scheduled on the UI thread.
func (s *ScopeWidget) SetTrace(t Trace) {
	s.mu.Lock()
	s.trace = t
	s.signal = s.points(s.signal, t.Signal, t)
	s.slope = s.points(s.slope, scaleOnto(t.Slope, t.Signal), t)
	s.probs = s.points(s.probs, t.Probabilities, t)
	s.peaks = s.peaks[:0]
	for _, p := range t.Peaks {
		if p >= 0 && p < len(t.Signal) {
			s.peaks = append(s.peaks, point{t: t.Start + float64(p)/t.SampleRate, v: t.Signal[p]})
		}
	}
	if !s.zoomed {
		s.view = s.autoScale()
	} else {
		lo, hi := valueRange(s.signal)
		s.view.yMin, s.view.yMax = pad(lo, hi)
	}
	s.mu.Unlock()

	fyne.Do(s.Refresh)
}

// Trace returns the displayed data.
func (s *ScopeWidget) Trace() Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trace
}

// SetView shows the time span [from, to] seconds. An empty span resets to the
// whole trace.
func (s *ScopeWidget) SetView(from, to float64) {
	s.mu.Lock()
	if to <= from {
		s.zoomed = false
		s.view = s.autoScale()
	} else {
		s.zoomed = true
		s.view.xMin, s.view.xMax = from, to
	}
	s.mu.Unlock()
	fyne.Do(s.Refresh)
}

// OnTapped registers the tap handler.
func (s *ScopeWidget) OnTapped(f func(seconds float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTap = f
}

// Tapped implements fyne.Tappable.
func (s *ScopeWidget) Tapped(ev *fyne.PointEvent) {
	s.mu.RLock()
	view := s.view
	onTap := s.onTap
	s.mu.RUnlock()

	if onTap == nil {
		return
	}
	view.layout(s.Size())
	if t, ok := view.timeAt(ev.Position.X); ok {
		onTap(t)
	}
}

// points converts values into display points, decimated to maxDisplayPoints.
func (s *ScopeWidget) points(dst []point, values []float64, t Trace) []point {
	if len(values) == 0 || t.SampleRate <= 0 {
		return dst[:0]
	}
	all := make([]point, len(values))
	for i, v := range values {
		all[i] = point{t: t.Start + float64(i)/t.SampleRate, v: v}
	}
	return sample.Downsample(dst, all, s.maxDisplayPoints)
}

// autoScale fits the whole trace. Callers hold s.mu.
func (s *ScopeWidget) autoScale() viewport {
	var v viewport
	if len(s.signal) == 0 {
		v.xMin, v.xMax = 0, s.minSpan
		v.yMin, v.yMax = 0, 1
		if v.xMax <= 0 {
			v.xMax = 1
		}
		return v
	}
	v.xMin = s.trace.Start
	v.xMax = s.trace.Start + s.trace.Duration()
	if v.xMax-v.xMin < s.minSpan {
		v.xMax = v.xMin + s.minSpan
	}
	lo, hi := valueRange(s.signal)
	v.yMin, v.yMax = pad(lo, hi)
	return v
}

func valueRange(pts []point) (lo, hi float64) {
	if len(pts) == 0 {
		return 0, 1
	}
	lo, hi = pts[0].v, pts[0].v
	for _, p := range pts {
		lo = min(lo, p.v)
		hi = max(hi, p.v)
	}
	return lo, hi
}

// pad adds a 10% margin.
func pad(lo, hi float64) (float64, float64) {
	span := hi - lo
	if span == 0 {
		span = 1
	}
	return lo - 0.1*span, hi + 0.1*span
}

// scaleOnto maps x linearly onto the range of ref.
func scaleOnto(x, ref []float64) []float64 {
	if len(x) == 0 || len(ref) == 0 {
		return nil
	}
	xlo, xhi := x[0], x[0]
	for _, v := range x {
		xlo, xhi = min(xlo, v), max(xhi, v)
	}
	rlo, rhi := ref[0], ref[0]
	for _, v := range ref {
		rlo, rhi = min(rlo, v), max(rhi, v)
	}
	out := make([]float64, len(x))
	if xhi == xlo {
		for i := range out {
			out[i] = (rlo + rhi) / 2
		}
		return out
	}
	k := (rhi - rlo) / (xhi - xlo)
	for i, v := range x {
		out[i] = rlo + (v-xlo)*k
	}
	return out
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255}) // Dark background
	return &scopeRenderer{
		scope:   s,
		bg:      bg,
		objects: []fyne.CanvasObject{bg},
	}
}
