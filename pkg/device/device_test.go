package device

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/itohio/pulsepeak/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    RawSample
		wantErr bool
	}{
		{
			name: "valid line",
			line: "1717000000123456,120345,98765",
			want: RawSample{Timestamp: time.UnixMicro(1717000000123456), IR: 120345, Red: 98765},
		},
		{
			name: "full scale",
			line: "1,262143,0",
			want: RawSample{Timestamp: time.UnixMicro(1), IR: MaxReading, Red: 0},
		},
		{name: "too few fields", line: "1,2", wantErr: true},
		{name: "too many fields", line: "1,2,3,4", wantErr: true},
		{name: "non-numeric timestamp", line: "abc,2,3", wantErr: true},
		{name: "non-numeric ir", line: "1,x,3", wantErr: true},
		{name: "negative red", line: "1,2,-3", wantErr: true},
		{name: "ir out of range", line: "1,262144,3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Timestamp.UnixNano(), got.Timestamp.UnixNano())
			assert.Equal(t, tt.want.IR, got.IR)
			assert.Equal(t, tt.want.Red, got.Red)
		})
	}
}

func TestIsSampleLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"1717000000123456,120345,98765", true},
		{"1,2", true},
		{"Measurement started", false},
		{"status: ok, wifi connected", false},
		{"42", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSampleLine(tt.line), tt.line)
	}
}

func TestNew_Defaults(t *testing.T) {
	dev := New("/dev/ttyUSB0", 0, 0, nil)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultBufferSize, dev.bufSize)
	assert.False(t, dev.IsConnected())
	assert.ErrorIs(t, dev.Send("start"), ErrNotConnected)
	assert.NoError(t, dev.Close())
}

// pipeDevice returns a Serial wired to the far end of an in-memory pipe.
func pipeDevice(t *testing.T) (*Serial, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	dev := New("pipe", 0, 16, zaptest.NewLogger(t))
	dev.open = func(string, int) (io.ReadWriteCloser, error) { return near, nil }
	require.NoError(t, dev.Connect())
	t.Cleanup(func() { far.Close() })
	return dev, far
}

func TestSerial_ReadsSamplesAndLines(t *testing.T) {
	dev, far := pipeDevice(t)
	assert.ErrorIs(t, dev.Connect(), ErrAlreadyConnected)

	go func() {
		_, _ = io.WriteString(far, "Pulse sensor ready\r\n1000,120000,90000\n\nbroken,line\n2000,120100,90100\n")
	}()

	s := <-dev.Samples()
	assert.Equal(t, uint32(120000), s.IR)
	assert.Equal(t, "Pulse sensor ready", <-dev.Lines())
	s = <-dev.Samples()
	assert.Equal(t, time.UnixMicro(2000).UnixNano(), s.Timestamp.UnixNano())
	assert.Equal(t, "broken,line", <-dev.Lines())

	require.NoError(t, dev.Close())
	_, ok := <-dev.Samples()
	assert.False(t, ok, "samples closed")
	_, ok = <-dev.Lines()
	assert.False(t, ok, "lines closed")
	assert.False(t, dev.IsConnected())
}

func TestSerial_Commands(t *testing.T) {
	dev, far := pipeDevice(t)
	defer dev.Close()
	cmd := Commands{Device: dev}
	r := bufio.NewReader(far)

	tests := []struct {
		name string
		send func() error
		want string
	}{
		{"start", cmd.Start, "start\n"},
		{"retry", cmd.Retry, "retry\n"},
		{"status", cmd.Status, "status\n"},
		{"help", cmd.Help, "help\n"},
		{"user", func() error { return cmd.SetUser(" ana ") }, "USER:ana\n"},
		{"tag", func() error { return cmd.SetTag("rest") }, "TAG:rest\n"},
		{"age", func() error { return cmd.SetAge(34) }, "AGE:34\n"},
		{"sex", func() error { return cmd.SetSex(Female) }, "SEX:F\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errc := make(chan error, 1)
			go func() { errc <- tt.send() }()
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, tt.want, line)
			require.NoError(t, <-errc)
		})
	}
}

func TestCommands_Invalid(t *testing.T) {
	m := NewMock(nil)
	cmd := Commands{Device: m}
	assert.ErrorIs(t, cmd.SetAge(0), ErrInvalidCommand)
	assert.ErrorIs(t, cmd.SetAge(200), ErrInvalidCommand)
	assert.ErrorIs(t, cmd.SetSex("X"), ErrInvalidCommand)
	assert.ErrorIs(t, cmd.SetUser("  "), ErrInvalidCommand)
	assert.ErrorIs(t, cmd.SetTag("a\nstart"), ErrInvalidCommand)
	assert.ErrorIs(t, cmd.Start(), ErrNotConnected)
}

func TestSerial_OpenError(t *testing.T) {
	dev := New("nowhere", 0, 0, nil)
	dev.open = func(string, int) (io.ReadWriteCloser, error) { return nil, errors.New("no such port") }
	assert.Error(t, dev.Connect())
	assert.False(t, dev.IsConnected())
}

func mockConfig() *config.MockConfig {
	cfg := config.Default().Mock
	cfg.SampleRate = time.Millisecond
	return &cfg
}

func TestMock_GracefulShutdown(t *testing.T) {
	m := NewMock(mockConfig())
	require.NoError(t, m.Connect())
	samples := m.Samples()

	received := 0
	var first, last RawSample
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range samples {
			if received == 0 {
				first = s
			}
			last = s
			received++
			if received == 20 {
				m.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("samples channel did not close within timeout")
	}
	assert.GreaterOrEqual(t, received, 20)
	assert.True(t, last.Timestamp.After(first.Timestamp))
	assert.InDelta(t, 120000, float64(first.IR), 10000)
	_, ok := <-m.Lines()
	assert.False(t, ok)
}

func TestMock_Commands(t *testing.T) {
	m := NewMock(mockConfig())
	require.NoError(t, m.Connect())
	defer m.Close()
	cmd := Commands{Device: m}

	require.NoError(t, cmd.SetUser("ana"))
	assert.Equal(t, "User set: ana", <-m.Lines())
	require.NoError(t, cmd.SetTag("rest"))
	<-m.Lines()
	require.NoError(t, cmd.Status())
	assert.Contains(t, <-m.Lines(), `user="ana" tag="rest"`)
	require.NoError(t, m.Send("reboot"))
	assert.Equal(t, "Unknown command: reboot", <-m.Lines())

	assert.Equal(t, []string{"USER:ana", "TAG:rest", "status", "reboot"}, m.Sent())
	assert.InDelta(t, 1000, m.SampleRate(), 1e-9)
}
