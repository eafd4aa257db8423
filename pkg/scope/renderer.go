package scope

import (
	"image/color"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
)

const (
	marginLeft   = float32(60)
	marginRight  = float32(20)
	marginTop    = float32(20)
	marginBottom = float32(40)
)

var (
	gridColor   = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	textColor   = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	signalColor = color.RGBA{R: 255, G: 165, B: 0, A: 255}   // Orange
	slopeColor  = color.RGBA{R: 100, G: 200, B: 255, A: 160} // Light blue
	probColor   = color.RGBA{R: 120, G: 220, B: 120, A: 200} // Green
	peakColor   = color.RGBA{R: 230, G: 50, B: 50, A: 255}   // Red
)

// viewport maps seconds and signal values onto the plot area.
type viewport struct {
	xMin, xMax float64
	yMin, yMax float64

	plotX, plotY, plotW, plotH float32
}

func (v *viewport) layout(size fyne.Size) {
	v.plotX = marginLeft
	v.plotY = marginTop
	v.plotW = size.Width - marginLeft - marginRight
	v.plotH = size.Height - marginTop - marginBottom
}

func (v viewport) x(t float64) float32 {
	return v.plotX + float32((t-v.xMin)/(v.xMax-v.xMin))*v.plotW
}

func (v viewport) y(val float64) float32 {
	return v.plotY + v.plotH - float32((val-v.yMin)/(v.yMax-v.yMin))*v.plotH
}

// yUnit maps a value in [0, 1] onto the full plot height.
func (v viewport) yUnit(val float64) float32 {
	return v.plotY + v.plotH - float32(val)*v.plotH
}

// timeAt converts a horizontal pixel position into seconds. Positions outside
// the plot area are rejected.
func (v viewport) timeAt(px float32) (float64, bool) {
	if v.plotW <= 0 || px < v.plotX || px > v.plotX+v.plotW {
		return 0, false
	}
	return v.xMin + float64((px-v.plotX)/v.plotW)*(v.xMax-v.xMin), true
}

func (v viewport) visible(t float64) bool {
	return t >= v.xMin && t <= v.xMax
}

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope   *ScopeWidget
	bg      *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 240)
}

func (r *scopeRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.Refresh()
	}
}

func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	view := r.scope.view
	signal := r.scope.signal
	slope := r.scope.slope
	probs := r.scope.probs
	peaks := r.scope.peaks
	label := r.scope.trace.Label
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	r.objects = []fyne.CanvasObject{r.bg}
	if size.Width == 0 || size.Height == 0 {
		return
	}
	view.layout(size)

	r.drawGrid(view)
	r.drawPolyline(view, probs, probColor, 1, true)
	r.drawPolyline(view, slope, slopeColor, 1, false)
	r.drawPolyline(view, signal, signalColor, 1.5, false)
	r.drawPeaks(view, peaks)

	if label != "" {
		text := canvas.NewText(label, color.RGBA{R: 220, G: 220, B: 220, A: 255})
		text.TextSize = 12
		text.Move(fyne.NewPos(view.plotX+10, view.plotY+6))
		r.objects = append(r.objects, text)
	}
	canvas.Refresh(r.scope)
}

// drawGrid draws the oscilloscope-style grid with time labels in seconds.
func (r *scopeRenderer) drawGrid(v viewport) {
	const rows, cols = 6, 10
	for i := 0; i < rows+1; i++ {
		y := v.plotY + float32(i)*v.plotH/rows
		r.line(fyne.NewPos(v.plotX, y), fyne.NewPos(v.plotX+v.plotW, y), gridColor, 1)

		value := v.yMax - float64(i)*(v.yMax-v.yMin)/rows
		r.text(formatValue(value), fyne.NewPos(v.plotX-5, y-6), fyne.TextAlignTrailing)
	}
	for i := 0; i < cols+1; i++ {
		x := v.plotX + float32(i)*v.plotW/cols
		r.line(fyne.NewPos(x, v.plotY), fyne.NewPos(x, v.plotY+v.plotH), gridColor, 1)

		t := v.xMin + float64(i)*(v.xMax-v.xMin)/cols
		r.text(formatSeconds(t), fyne.NewPos(x-20, v.plotY+v.plotH+5), fyne.TextAlignCenter)
	}
}

func (r *scopeRenderer) drawPolyline(v viewport, pts []point, c color.Color, width float32, unit bool) {
	var prev fyne.Position
	have := false
	for _, p := range pts {
		if !v.visible(p.t) {
			have = false
			continue
		}
		y := v.y(p.v)
		if unit {
			y = v.yUnit(p.v)
		}
		pos := fyne.NewPos(v.x(p.t), y)
		if have {
			r.line(prev, pos, c, width)
		}
		prev, have = pos, true
	}
}

// drawPeaks marks every peak with a vertical tick and a dot.
func (r *scopeRenderer) drawPeaks(v viewport, peaks []point) {
	for _, p := range peaks {
		if !v.visible(p.t) {
			continue
		}
		x, y := v.x(p.t), v.y(p.v)
		r.line(fyne.NewPos(x, v.plotY+v.plotH-8), fyne.NewPos(x, v.plotY+v.plotH), peakColor, 2)

		dot := canvas.NewCircle(peakColor)
		dot.Resize(fyne.NewSize(8, 8))
		dot.Move(fyne.NewPos(x-4, y-4))
		r.objects = append(r.objects, dot)
	}
}

func (r *scopeRenderer) line(a, b fyne.Position, c color.Color, width float32) {
	l := canvas.NewLine(c)
	l.Position1 = a
	l.Position2 = b
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) text(s string, pos fyne.Position, align fyne.TextAlign) {
	t := canvas.NewText(s, textColor)
	t.TextSize = 10
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *scopeRenderer) Destroy() {}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 3, 64)
}

func formatSeconds(t float64) string {
	if t < 10 && t > -10 {
		return strconv.FormatFloat(t, 'f', 2, 64) + "s"
	}
	return strconv.FormatFloat(t, 'f', 1, 64) + "s"
}
