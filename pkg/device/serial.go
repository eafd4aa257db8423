package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the USB CDC rate of the ESP32 firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 512
	// MaxReading is the full scale of the 18-bit optical front end.
	MaxReading = 1<<18 - 1
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// RawSample is one optical reading reported by the sensor.
type RawSample struct {
	Timestamp time.Time
	IR        uint32
	Red       uint32
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the ESP32 PPG sensor.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      *zap.Logger
	open     func(name string, baud int) (io.ReadWriteCloser, error)

	mu        sync.RWMutex
	conn      io.ReadWriteCloser
	samples   chan RawSample
	lines     chan string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
}

// New creates a Serial device for the given port. Zero baud rate and buffer size
// select the defaults.
func New(port string, baudRate int, bufSize int, log *zap.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      log.With(zap.String("port", port)),
		open:     openPort,
	}
}

func openPort(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the port and starts reading.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}

	conn, err := d.open(d.port, d.baudRate)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.cancel = cancel
	d.samples = make(chan RawSample, d.bufSize)
	d.lines = make(chan string, 64)
	d.connected = true

	d.wg.Add(1)
	go d.read(ctx, conn, d.samples, d.lines)

	d.log.Info("Connected", zap.Int("baud", d.baudRate))
	return nil
}

// Close closes the port and the output channels.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	err := d.conn.Close()
	d.connected = false
	d.mu.Unlock()

	// The reader owns the channels and closes them on exit.
	d.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Samples returns the channel for reading samples. It is nil before Connect.
func (d *Serial) Samples() <-chan RawSample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.samples
}

// Lines returns non-sample device output. It is nil before Connect.
func (d *Serial) Lines() <-chan string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lines
}

// Send writes a newline terminated command.
func (d *Serial) Send(command string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}
	if _, err := io.WriteString(d.conn, command+"\n"); err != nil {
		return fmt.Errorf("failed to send %q: %w", command, err)
	}
	d.log.Debug("Command sent", zap.String("command", command))
	return nil
}

func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) read(ctx context.Context, r io.Reader, samples chan<- RawSample, lines chan<- string) {
	defer d.wg.Done()
	defer close(samples)
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if isSampleLine(line) {
			sample, err := parseLine(line)
			if err != nil {
				d.log.Warn("Failed to parse sample", zap.String("line", line), zap.Error(err))
				continue
			}
			select {
			case samples <- sample:
			case <-ctx.Done():
				return
			default:
				d.log.Warn("Samples channel full, dropping sample")
			}
			continue
		}

		select {
		case lines <- line:
		case <-ctx.Done():
			return
		default:
			d.log.Debug("Device output dropped", zap.String("line", line))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		d.log.Error("Error reading from serial port", zap.Error(err))
	}
}

// isSampleLine reports whether line starts with a digit and contains commas, which
// tells samples apart from human readable firmware output.
func isSampleLine(line string) bool {
	return line[0] >= '0' && line[0] <= '9' && strings.Count(line, ",") > 0
}

// parseLine parses a sample line from the sensor.
// Format: unix_micros,ir,red
// Example: 1717000000123456,120345,98765
func parseLine(line string) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return RawSample{}, fmt.Errorf("invalid line format: expected 3 comma-separated values, got %d", len(parts))
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	ir, err := parseReading(parts[1])
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid IR reading: %w", err)
	}
	red, err := parseReading(parts[2])
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid red reading: %w", err)
	}

	return RawSample{
		Timestamp: time.UnixMicro(micros),
		IR:        ir,
		Red:       red,
	}, nil
}

func parseReading(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if v > MaxReading {
		return 0, fmt.Errorf("reading out of range: %d (max %d)", v, MaxReading)
	}
	return uint32(v), nil
}
