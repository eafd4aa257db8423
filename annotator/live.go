package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/device"
	"github.com/itohio/pulsepeak/pkg/monitor"
	"github.com/itohio/pulsepeak/pkg/sample"
	"github.com/itohio/pulsepeak/pkg/scope"
	"github.com/itohio/pulsepeak/pkg/store"
)

const (
	converterBuffer = 500
	consoleLines    = 200
	updateInterval  = 50 * time.Millisecond
)

// measurementChain tracks the components of the measurement chain for graceful shutdown.
type measurementChain struct {
	device      device.Device
	started     time.Time
	recorder    *recorder
	linesDone   chan struct{} // Closed when the device output goroutine exits
	monitorDone chan struct{} // Closed when the monitor goroutine exits
}

// liveControls are the widgets of the live tab that change with the connection.
type liveControls struct {
	connectBtn *widget.Button
	recordBtn  *widget.Button
	hrvLabel   *widget.Label
	console    *console
	commands   *commandPanel

	mu         sync.Mutex
	started    time.Time // zero while disconnected
	lastUpdate time.Time
}

// createLiveView creates the acquisition tab: connection toolbar, live scope,
// sensor commands and device output.
func createLiveView(state *appState) fyne.CanvasObject {
	live := &liveControls{
		hrvLabel: widget.NewLabel("Not connected"),
		console:  newConsole(consoleLines),
	}
	state.live = live

	live.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	live.recordBtn = widget.NewButtonWithIcon("Record", theme.MediaRecordIcon(), func() {
		handleRecord(state)
	})
	live.recordBtn.Disable()
	live.commands = createCommandPanel(state)

	state.monitor.OnUpdate(func(u monitor.Update) {
		live.mu.Lock()
		now := time.Now()
		started := live.started
		if started.IsZero() || now.Sub(live.lastUpdate) < updateInterval {
			live.mu.Unlock()
			return
		}
		live.lastUpdate = now
		live.mu.Unlock()

		state.liveScope.SetTrace(liveTrace(u, started))
		text := liveText(u)
		fyne.Do(func() {
			live.hrvLabel.SetText(text)
		})
	})

	toolbar := container.NewBorder(
		nil,
		nil,
		container.NewHBox(live.connectBtn, live.recordBtn),
		nil,
		live.hrvLabel,
	)
	side := container.NewBorder(live.commands.content, nil, nil, nil, live.console.scroll)
	split := container.NewHSplit(state.liveScope, side)
	split.Offset = 0.7

	return container.NewBorder(toolbar, nil, nil, nil, split)
}

func (l *liveControls) setStarted(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = t
}

// liveTrace converts a monitor update into a scope trace on a time axis that
// starts when the device was connected.
func liveTrace(u monitor.Update, started time.Time) scope.Trace {
	t := scope.Trace{
		Signal:     sample.Values(u.Samples),
		SampleRate: u.SampleRate,
	}
	if len(u.Samples) > 0 {
		t.Start = u.Samples[0].Timestamp.Sub(started).Seconds()
	}
	if len(u.Slope) == len(u.Samples) {
		t.Slope = u.Slope
	}
	t.Peaks = make([]int, len(u.Beats))
	for i, b := range u.Beats {
		t.Peaks[i] = b.Index
	}
	if u.Summary.HR > 0 {
		t.Label = fmt.Sprintf("%.0f bpm", u.Summary.HR)
	}
	return t
}

// liveText is the heart rate line shown above the live scope.
func liveText(u monitor.Update) string {
	text := fmt.Sprintf("%.1f Hz | %d beats | HR %.1f bpm", u.SampleRate, len(u.Beats), u.Summary.HR)
	if u.HRV.Valid() {
		text += fmt.Sprintf(" | SDNN %.1f ms | RMSSD %.1f ms | pNN50 %.1f%%", u.HRV.SDNN, u.HRV.RMSSD, u.HRV.PNN50)
	}
	return text
}

// closeMeasurementChain gracefully closes the measurement chain.
// Waits for all goroutines to finish and channels to drain.
func closeMeasurementChain(chain *measurementChain) {
	if chain == nil {
		return
	}

	// Close device - this will close the samples and lines channels
	if chain.device != nil {
		chain.device.Close()
	}
	if chain.linesDone != nil {
		<-chain.linesDone
	}
	// The monitor goroutine exits once the converters drain
	if chain.monitorDone != nil {
		<-chain.monitorDone
	}
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	live := state.live
	if state.chain != nil {
		if state.chain.recorder.active() {
			handleRecord(state)
		}
		closeMeasurementChain(state.chain)
		state.chain = nil
		live.setStarted(time.Time{})
		live.recordBtn.Disable()
		live.commands.setDevice(nil)
		live.hrvLabel.SetText("Not connected")
		state.log.Info("Disconnected from sensor", zap.Bool("mock", state.useMock))
		return
	}

	var dev device.Device
	if state.useMock {
		dev = device.NewMock(&state.cfg.Mock)
	} else {
		dev = device.New(state.cfg.Serial.Port, state.cfg.Serial.BaudRate, device.DefaultBufferSize, state.log)
	}
	if err := dev.Connect(); err != nil {
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to mocked sensor: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		return
	}
	state.log.Info("Connected to sensor", zap.Bool("mock", state.useMock), zap.String("port", state.cfg.Serial.Port))

	state.monitor.Reset()
	state.monitor.ResetShutdown()

	mc := state.cfg.Monitor
	converted := sample.Chain(mc.Averaging, mc.Smoothing, converterBuffer, state.log)(dev.Samples())

	chain := &measurementChain{
		device:      dev,
		started:     time.Now(),
		recorder:    &recorder{},
		linesDone:   make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	samples := tap(converted, chain.recorder.add)

	go func() {
		defer close(chain.linesDone)
		for line := range dev.Lines() {
			live.console.append(line)
		}
	}()
	go func() {
		defer close(chain.monitorDone)
		state.monitor.ProcessSamples(samples)
	}()

	state.chain = chain
	live.setStarted(chain.started)
	live.recordBtn.Enable()
	live.commands.setDevice(dev)
}

// tap forwards every sample from in and hands it to f on the way.
func tap(in <-chan sample.Sample, f func(sample.Sample)) <-chan sample.Sample {
	out := make(chan sample.Sample, converterBuffer)

	go func() {
		defer close(out)
		for s := range in {
			f(s)
			out <- s
		}
	}()

	return out
}

// recorder captures samples while active.
type recorder struct {
	mu      sync.Mutex
	on      bool
	samples []sample.Sample
}

func (r *recorder) add(s sample.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.on {
		r.samples = append(r.samples, s)
	}
}

func (r *recorder) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = true
	r.samples = nil
}

// stop ends the recording and returns what was captured.
func (r *recorder) stop() []sample.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = false
	out := r.samples
	r.samples = nil
	return out
}

func (r *recorder) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// handleRecord starts a recording, or stops it and stores the captured IR
// waveform as a new session.
func handleRecord(state *appState) {
	chain := state.chain
	if chain == nil {
		return
	}
	live := state.live
	if !chain.recorder.active() {
		chain.recorder.start()
		live.recordBtn.SetText("Stop")
		live.recordBtn.Importance = widget.DangerImportance
		live.recordBtn.Refresh()
		return
	}

	captured := chain.recorder.stop()
	live.recordBtn.SetText("Record")
	live.recordBtn.Importance = widget.MediumImportance
	live.recordBtn.Refresh()

	session, err := recordedSession(captured, state.sensorName(), live.commands.user())
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	ctx := context.Background()
	if err := state.store.Create(ctx, session); err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	state.log.Info("Recording stored",
		zap.String("session", session.ID),
		zap.Int("samples", len(session.IRWaveform)),
		zap.Float64("fs", session.SamplingRateHz))
	// Indices shift with a new session, so the picker starts over.
	state.reload()
}

func (s *appState) sensorName() string {
	if s.useMock {
		return "mock"
	}
	return "esp32"
}

// recordedSession builds a session from captured samples. The sampling rate is
// estimated from the timestamps.
func recordedSession(samples []sample.Sample, deviceID, user string) (*store.Session, error) {
	fs := sample.Rate(samples)
	if len(samples) < 2 || fs <= 0 {
		return nil, fmt.Errorf("recording too short: %d samples", len(samples))
	}
	return &store.Session{
		CreatedAt:      samples[0].Timestamp,
		DeviceID:       deviceID,
		UserName:       user,
		SamplingRateHz: fs,
		IRWaveform:     sample.IRValues(samples),
	}, nil
}

// console shows the most recent device output lines.
type console struct {
	max    int
	mu     sync.Mutex
	lines  []string
	label  *widget.Label
	scroll *container.Scroll
}

func newConsole(max int) *console {
	c := &console{max: max, label: widget.NewLabel("")}
	c.label.Wrapping = fyne.TextWrapBreak
	c.scroll = container.NewVScroll(c.label)
	return c
}

// append may be called from any goroutine.
func (c *console) append(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	if len(c.lines) > c.max {
		c.lines = c.lines[len(c.lines)-c.max:]
	}
	text := strings.Join(c.lines, "\n")
	c.mu.Unlock()

	fyne.Do(func() {
		c.label.SetText(text)
		c.scroll.ScrollToBottom()
	})
}
