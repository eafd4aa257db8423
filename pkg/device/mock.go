package device

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/synth"
)

// Mock simulates the PPG sensor with a synthetic pulse wave.
type Mock struct {
	cfg config.MockConfig

	mu        sync.RWMutex
	samples   chan RawSample
	lines     chan string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool

	// Fields set by commands.
	user, tag string
	sent      []string
}

// NewMock creates a mocked device. A nil config selects the defaults.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	c := *cfg
	if c.SampleRate <= 0 {
		c.SampleRate = config.Default().Mock.SampleRate
	}
	return &Mock{cfg: c}
}

// SampleRate returns the simulated sample rate in Hz.
func (m *Mock) SampleRate() float64 {
	return 1 / m.cfg.SampleRate.Seconds()
}

func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.samples = make(chan RawSample, DefaultBufferSize)
	m.lines = make(chan string, 64)
	m.connected = true

	m.wg.Add(1)
	go m.generate(ctx, m.samples)
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	m.wg.Wait()
	m.mu.Lock()
	close(m.lines)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Samples() <-chan RawSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samples
}

func (m *Mock) Lines() <-chan string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lines
}

func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Send answers commands the way the firmware does.
func (m *Mock) Send(command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.sent = append(m.sent, command)

	var reply string
	key, value, hasValue := strings.Cut(command, ":")
	switch {
	case hasValue && key == "USER":
		m.user = value
		reply = "User set: " + value
	case hasValue && key == "TAG":
		m.tag = value
		reply = "Tag set: " + value
	case hasValue && (key == "AGE" || key == "SEX"):
		reply = fmt.Sprintf("%s set: %s", strings.ToLower(key), value)
	case command == "start":
		reply = "Measurement started"
	case command == "retry":
		reply = "Retrying upload"
	case command == "status":
		reply = fmt.Sprintf("status: mock user=%q tag=%q rate=%.0fHz", m.user, m.tag, 1/m.cfg.SampleRate.Seconds())
	case command == "help":
		reply = "commands: start, retry, status, help, USER:<name>, TAG:<tag>, AGE:<years>, SEX:<M|F>"
	default:
		reply = "Unknown command: " + command
	}

	select {
	case m.lines <- reply:
	default:
	}
	return nil
}

// Sent returns the commands received so far.
func (m *Mock) Sent() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sent...)
}

func (m *Mock) generate(ctx context.Context, samples chan<- RawSample) {
	defer m.wg.Done()
	defer close(samples)

	gen := synth.NewGenerator(synth.Config{
		SampleRate:  m.SampleRate(),
		HeartRate:   m.cfg.HeartRate,
		Variation:   m.cfg.Variation,
		PTT:         0,
		Noise:       m.cfg.NoiseLevel,
		Respiration: 0.1,
		Seed:        m.cfg.Seed,
	})

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	start := time.Now()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := gen.Next()
			sample := RawSample{
				Timestamp: start.Add(time.Duration(n) * m.cfg.SampleRate),
				IR:        reading(synth.Sensor(s.PPG, m.cfg.Baseline, m.cfg.Amplitude)),
				Red:       reading(synth.Sensor(s.PPG, 0.8*m.cfg.Baseline, 0.6*m.cfg.Amplitude)),
			}
			n++
			select {
			case samples <- sample:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip
			}
		}
	}
}

func reading(v float64) uint32 {
	return uint32(math.Max(0, math.Min(MaxReading, math.Round(v))))
}
