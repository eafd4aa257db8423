// Package monitor follows a live PPG stream: it keeps a sliding time window of
// samples, re-detects beats periodically and reports heart rate variability.
package monitor

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pconstantinou/savitzkygolay"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/hrv"
	"github.com/itohio/pulsepeak/pkg/peaks"
	"github.com/itohio/pulsepeak/pkg/sample"
)

var _ PulseMonitor = (*Monitor)(nil)

// Beat is a detected systolic peak inside the current window.
type Beat struct {
	Index int // sample index in the window
	Time  time.Time
	Value float64
}

// Update is the state passed to callbacks. Slices are copies owned by the callee.
type Update struct {
	Samples    []sample.Sample
	Slope      []float64 // first derivative of Value per second
	Beats      []Beat
	SampleRate float64
	Summary    hrv.Summary
	HRV        hrv.Metrics
}

// PulseMonitor processes samples, maintains the window and detects beats.
type PulseMonitor interface {
	ProcessSamples(input <-chan sample.Sample)
	Samples() []sample.Sample
	Slope() []float64
	Beats() []Beat
	OnUpdate(func(Update))
}

// Monitor implements PulseMonitor. Samples are kept in time order and dropped by
// timestamp once they fall out of the window.
type Monitor struct {
	window      time.Duration
	detectEvery int
	sampleRate  float64 // 0 estimates the rate from timestamps
	derivative  func(y, x []float64) ([]float64, error)
	slopeWindow int

	mu      sync.RWMutex
	samples []sample.Sample
	slope   []float64
	beats   []Beat
	summary hrv.Summary
	metrics hrv.Metrics
	rate    float64
	pending int

	callbacks []func(Update)
	cbMu      sync.RWMutex

	// Set when the input channel closes, prevents further callbacks.
	shutdown bool
}

// New creates a monitor. sampleRate may be 0 when the rate is only known from the
// sample timestamps.
func New(cfg config.MonitorConfig, sampleRate float64) (*Monitor, error) {
	if cfg.SlopeWindow%2 == 0 || cfg.SlopeWindow <= cfg.SlopeOrder {
		return nil, fmt.Errorf("slope window %d must be odd and larger than the order %d", cfg.SlopeWindow, cfg.SlopeOrder)
	}
	filter, err := savitzkygolay.NewFilter(cfg.SlopeWindow, 1, cfg.SlopeOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to create slope filter: %w", err)
	}
	detectEvery := cfg.DetectEvery
	if detectEvery <= 0 {
		detectEvery = 1
	}
	return &Monitor{
		window:      time.Duration(cfg.WindowSeconds * float64(time.Second)),
		detectEvery: detectEvery,
		sampleRate:  sampleRate,
		derivative:  filter.Process,
		slopeWindow: cfg.SlopeWindow,
	}, nil
}

// ProcessSamples consumes input until it closes.
func (m *Monitor) ProcessSamples(input <-chan sample.Sample) {
	for s := range input {
		m.processSample(s)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

func (m *Monitor) processSample(s sample.Sample) {
	m.mu.Lock()

	m.samples = append(m.samples, s)
	cutoff := s.Timestamp.Add(-m.window)
	drop := 0
	for drop < len(m.samples) && !m.samples[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		m.samples = append(m.samples[:0], m.samples[drop:]...)
		m.shiftBeats(drop)
	}

	m.pending++
	updated := false
	if m.pending >= m.detectEvery {
		m.pending = 0
		m.analyze()
		updated = true
	}
	notify := updated && !m.shutdown
	m.mu.Unlock()

	if notify {
		m.notifyCallbacks()
	}
}

// shiftBeats moves beat indices after n samples were dropped from the front.
func (m *Monitor) shiftBeats(n int) {
	kept := m.beats[:0]
	for _, b := range m.beats {
		b.Index -= n
		if b.Index >= 0 {
			kept = append(kept, b)
		}
	}
	m.beats = kept
	if n >= len(m.slope) {
		m.slope = m.slope[:0]
	} else {
		m.slope = m.slope[n:]
	}
}

// analyze recomputes the slope, beats and HRV of the window. Callers hold m.mu.
func (m *Monitor) analyze() {
	fs := m.sampleRate
	if fs <= 0 {
		fs = sample.Rate(m.samples)
	}
	m.rate = fs
	if fs <= 0 || len(m.samples) < m.slopeWindow {
		return
	}

	values := sample.Values(m.samples)
	t := make([]float64, len(m.samples))
	start := m.samples[0].Timestamp
	for i, s := range m.samples {
		t[i] = s.Timestamp.Sub(start).Seconds()
	}
	if slope, err := m.derivative(values, t); err == nil {
		m.slope = slope
	}

	idx := peaks.DetectAdaptive(dsp.MinMax(values), fs)
	m.beats = m.beats[:0]
	for _, i := range idx {
		m.beats = append(m.beats, Beat{Index: i, Time: m.samples[i].Timestamp, Value: values[i]})
	}
	m.summary = hrv.Summarize(idx, fs)
	m.metrics = hrv.Analyze(idx, fs)
}

// Samples returns a copy of the window.
func (m *Monitor) Samples() []sample.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]sample.Sample(nil), m.samples...)
}

// Slope returns a copy of the last computed slope trace. It may be shorter than
// Samples until the next detection.
func (m *Monitor) Slope() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.slope...)
}

// Beats returns a copy of the beats in the window.
func (m *Monitor) Beats() []Beat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Beat(nil), m.beats...)
}

// HRV returns the heart rate metrics of the last detection.
func (m *Monitor) HRV() (hrv.Summary, hrv.Metrics) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary, m.metrics
}

// OnUpdate registers a callback invoked after every detection.
// The callback should copy data quickly and return as fast as possible.
func (m *Monitor) OnUpdate(callback func(Update)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown allows callbacks again before a new measurement chain is started.
func (m *Monitor) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// Reset clears the window.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.slope = nil
	m.beats = nil
	m.summary = hrv.Summary{}
	m.metrics = hrv.Metrics{}
	m.pending = 0
}

func (m *Monitor) notifyCallbacks() {
	m.mu.RLock()
	u := Update{
		Samples:    append([]sample.Sample(nil), m.samples...),
		Slope:      append([]float64(nil), m.slope...),
		Beats:      append([]Beat(nil), m.beats...),
		SampleRate: m.rate,
		Summary:    m.summary,
		HRV:        m.metrics,
	}
	m.mu.RUnlock()

	m.cbMu.RLock()
	callbacks := slices.Clone(m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(u)
		}
	}
}
