package scope

import (
	"testing"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewport(t *testing.T) {
	v := viewport{xMin: 2, xMax: 12, yMin: 0, yMax: 1}
	v.layout(fyne.NewSize(1080, 560))
	require.Equal(t, float32(1000), v.plotW)
	require.Equal(t, float32(500), v.plotH)

	assert.Equal(t, marginLeft, v.x(2))
	assert.Equal(t, marginLeft+500, v.x(7))
	assert.Equal(t, marginTop+500, v.y(0))
	assert.Equal(t, marginTop, v.y(1))
	assert.Equal(t, marginTop+250, v.yUnit(0.5))

	tests := []struct {
		px   float32
		want float64
		ok   bool
	}{
		{marginLeft, 2, true},
		{marginLeft + 100, 3, true},
		{marginLeft + 1000, 12, true},
		{marginLeft - 1, 0, false},
		{marginLeft + 1001, 0, false},
	}
	for _, tt := range tests {
		got, ok := v.timeAt(tt.px)
		assert.Equal(t, tt.ok, ok, "px=%v", tt.px)
		assert.InDelta(t, tt.want, got, 1e-4, "px=%v", tt.px)
	}
}

func TestScaleOnto(t *testing.T) {
	assert.Equal(t, []float64{10, 15, 20}, scaleOnto([]float64{-1, 0, 1}, []float64{10, 20}))
	assert.Equal(t, []float64{15, 15}, scaleOnto([]float64{3, 3}, []float64{10, 20}))
	assert.Nil(t, scaleOnto(nil, []float64{1}))
}

func TestPad(t *testing.T) {
	lo, hi := pad(0, 10)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 11.0, hi)
	lo, hi = pad(5, 5)
	assert.InDelta(t, 4.9, lo, 1e-12)
	assert.InDelta(t, 5.1, hi, 1e-12)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "1.25s", formatSeconds(1.25))
	assert.Equal(t, "12.5s", formatSeconds(12.5))
}

func TestScopeWidget(t *testing.T) {
	a := test.NewApp()
	defer a.Quit()

	s := New(5)
	trace := Trace{
		Signal:     []float64{0, 1, 0, 1, 0, 1, 0, 1, 0, 1},
		SampleRate: 2,
		Start:      1,
		Peaks:      []int{1, 3, 42},
		Slope:      []float64{1, -1, 1, -1, 1, -1, 1, -1, 1, -1},
		Label:      "HR 72",
	}
	s.SetTrace(trace)
	assert.Equal(t, 5.0, s.Trace().Duration())

	s.mu.RLock()
	assert.Len(t, s.peaks, 2, "out of range peaks dropped")
	assert.Equal(t, 1.5, s.peaks[0].t)
	assert.Equal(t, 1.0, s.view.xMin)
	assert.Equal(t, 6.0, s.view.xMax)
	s.mu.RUnlock()

	s.SetView(2, 3)
	s.mu.RLock()
	assert.Equal(t, 2.0, s.view.xMin)
	assert.Equal(t, 3.0, s.view.xMax)
	s.mu.RUnlock()

	s.Resize(fyne.NewSize(1080, 560))
	var tapped float64
	s.OnTapped(func(sec float64) { tapped = sec })
	s.Tapped(&fyne.PointEvent{Position: fyne.NewPos(marginLeft+500, 100)})
	assert.InDelta(t, 2.5, tapped, 1e-4)

	s.SetView(0, 0)
	s.mu.RLock()
	assert.Equal(t, 1.0, s.view.xMin, "reset to the whole trace")
	s.mu.RUnlock()

	r := test.WidgetRenderer(s)
	assert.NotEmpty(t, r.Objects())
}

func TestScopeWidget_MinSpan(t *testing.T) {
	a := test.NewApp()
	defer a.Quit()

	s := New(10)
	s.SetTrace(Trace{Signal: []float64{1, 2, 3}, SampleRate: 1})
	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, 10.0, s.view.xMax-s.view.xMin)
}
