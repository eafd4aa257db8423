// Package report renders sessions and training runs for humans: interactive
// HTML charts of a recording with its peaks and PNG learning curves.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/itohio/pulsepeak/pkg/train"
)

var ErrEmptyHistory = errors.New("no epochs to plot")

// maxPoints bounds the number of signal samples sent to the browser.
const maxPoints = 20000

// decimation returns the sample step keeping a trace under maxPoints.
func decimation(n int) int {
	if n <= maxPoints {
		return 1
	}
	return (n + maxPoints - 1) / maxPoints
}

// WriteSessionHTML writes an interactive chart of signal sampled at fs with its
// peaks marked. probs is an optional model probability trace of the same length,
// drawn on a second axis.
func WriteSessionHTML(w io.Writer, title string, signal []float64, fs float64, peaks []int, probs []float64) error {
	line, err := sessionChart(title, signal, fs, peaks, probs)
	if err != nil {
		return err
	}
	return line.Render(w)
}

// WriteEditableSessionHTML is WriteSessionHTML with click-to-correct: a click
// inside the plot area POSTs {"time_s": t} to toggleURL and reloads the page.
func WriteEditableSessionHTML(w io.Writer, toggleURL, title string, signal []float64, fs float64, peaks []int, probs []float64) error {
	line, err := sessionChart(title, signal, fs, peaks, probs)
	if err != nil {
		return err
	}
	url, err := json.Marshal(toggleURL)
	if err != nil {
		return err
	}
	line.AddJSFuncs(fmt.Sprintf(toggleScript, "goecharts_"+sessionChartID, url))
	return line.Render(w)
}

const sessionChartID = "session"

// toggleScript is run after the chart is initialised. %[1]s is the chart
// variable, %[2]s the JSON encoded toggle URL.
const toggleScript = `%[1]s.getZr().on('click', function (e) {
	var at = [e.offsetX, e.offsetY];
	if (!%[1]s.containPixel('grid', at)) { return; }
	var t = %[1]s.convertFromPixel({seriesIndex: 0}, at)[0];
	fetch(%[2]s, {
		method: 'POST',
		headers: {'Content-Type': 'application/json'},
		body: JSON.stringify({time_s: t})
	}).then(function (r) {
		if (r.ok) { window.location.reload(); }
		else { r.text().then(function (msg) { alert(msg); }); }
	});
});`

func sessionChart(title string, signal []float64, fs float64, peaks []int, probs []float64) (*charts.Line, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("invalid sample rate %v", fs)
	}
	step := decimation(len(signal))

	marks := make([]opts.ScatterData, 0, len(peaks))
	for _, p := range peaks {
		if p < 0 || p >= len(signal) {
			continue
		}
		marks = append(marks, opts.ScatterData{Value: []interface{}{float64(p) / fs, signal[p]}})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, ChartID: sessionChartID, Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d samples @ %g Hz, %d peaks", len(signal), fs, len(marks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Signal"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	trace := make([]opts.LineData, 0, len(signal)/step+1)
	for i := 0; i < len(signal); i += step {
		trace = append(trace, opts.LineData{Value: []interface{}{float64(i) / fs, signal[i]}})
	}
	line.AddSeries("signal", trace, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	if len(probs) > 0 {
		line.ExtendYAxis(opts.YAxis{Type: "value", Name: "Probability", Min: 0, Max: 1})
		prob := make([]opts.LineData, 0, len(probs)/step+1)
		for i := 0; i < len(probs); i += step {
			prob = append(prob, opts.LineData{Value: []interface{}{float64(i) / fs, probs[i]}})
		}
		line.AddSeries("probability", prob, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), YAxisIndex: 1}))
	}

	scatter := charts.NewScatter()
	scatter.AddSeries("peaks", marks, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	line.Overlap(scatter)
	return line, nil
}

// SaveSessionHTML is WriteSessionHTML into a file.
func SaveSessionHTML(path, title string, signal []float64, fs float64, peaks []int, probs []float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSessionHTML(f, title, signal, fs, peaks, probs); err != nil {
		f.Close()
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return f.Close()
}

// HistoryPlot draws train/validation loss and validation F1 per epoch.
func HistoryPlot(history train.History) (*plot.Plot, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	p := plot.New()
	p.Title.Text = "Training"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss / F1"

	trainPts := make(plotter.XYs, len(history))
	valPts := make(plotter.XYs, len(history))
	f1Pts := make(plotter.XYs, len(history))
	for i, e := range history {
		x := float64(e.Epoch)
		trainPts[i] = plotter.XY{X: x, Y: e.TrainLoss}
		valPts[i] = plotter.XY{X: x, Y: e.ValLoss}
		f1Pts[i] = plotter.XY{X: x, Y: e.ValF1}
	}

	series := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
	}{
		{"train loss", trainPts, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{"val loss", valPts, color.RGBA{R: 255, G: 127, B: 14, A: 255}},
		{"val F1", f1Pts, color.RGBA{R: 44, G: 160, B: 44, A: 255}},
	}
	for _, s := range series {
		l, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, err
		}
		l.Color = s.color
		l.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}

	if best, ok := history.Best(); ok {
		mark, err := plotter.NewScatter(plotter.XYs{{X: float64(best.Epoch), Y: best.ValLoss}})
		if err != nil {
			return nil, err
		}
		mark.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		mark.Radius = vg.Points(3)
		p.Add(mark)
		p.Legend.Add("best", mark)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Add(plotter.NewGrid())
	return p, nil
}

// SaveHistoryPNG writes the learning curves to path. The format follows the
// file extension.
func SaveHistoryPNG(path string, history train.History) error {
	p, err := HistoryPlot(history)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}
