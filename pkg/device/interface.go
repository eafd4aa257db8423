package device

// Device defines the interface for PPG sensors (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Samples() <-chan RawSample
	// Lines carries device output that is not a sample: prompts, status and errors.
	Lines() <-chan string
	Send(command string) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
