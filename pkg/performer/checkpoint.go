package performer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/itohio/pulsepeak/pkg/nn"
)

const checkpointVersion = 1

var ErrCheckpoint = errors.New("invalid checkpoint")

// TensorState is the serialised form of one named tensor.
type TensorState struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float64 `msgpack:"data"`
}

// Checkpoint is everything needed to rebuild a trained model.
type Checkpoint struct {
	Version    int                    `msgpack:"version"`
	Config     Config                 `msgpack:"config"`
	SampleRate float64                `msgpack:"sample_rate"`
	Epoch      int                    `msgpack:"epoch"`
	ValLoss    float64                `msgpack:"val_loss"`
	Tensors    map[string]TensorState `msgpack:"tensors"`
}

func (m *Model) tensors() []*nn.Tensor {
	return append(m.Params(), m.Buffers()...)
}

// State copies every parameter and buffer keyed by name.
func (m *Model) State() map[string]TensorState {
	out := make(map[string]TensorState)
	for _, t := range m.tensors() {
		r, c := t.Dims()
		out[t.Name] = TensorState{Rows: r, Cols: c, Data: nn.Flatten(t.Value)}
	}
	return out
}

// LoadState overwrites parameters and buffers from state. Every tensor of the
// model must be present with a matching shape.
func (m *Model) LoadState(state map[string]TensorState) error {
	for _, t := range m.tensors() {
		s, ok := state[t.Name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %s", ErrCheckpoint, t.Name)
		}
		r, c := t.Dims()
		if s.Rows != r || s.Cols != c || len(s.Data) != r*c {
			return fmt.Errorf("%w: tensor %s is %dx%d (%d values), model expects %dx%d",
				ErrCheckpoint, t.Name, s.Rows, s.Cols, len(s.Data), r, c)
		}
	}
	for _, t := range m.tensors() {
		s := state[t.Name]
		t.Value.Copy(mat.NewDense(s.Rows, s.Cols, s.Data))
	}
	return nil
}

// Checkpoint snapshots the model.
func (m *Model) Checkpoint(sampleRate float64) *Checkpoint {
	return &Checkpoint{
		Version:    checkpointVersion,
		Config:     m.cfg,
		SampleRate: sampleRate,
		Tensors:    m.State(),
	}
}

// Save writes the checkpoint as msgpack.
func (c *Checkpoint) Save(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(c)
}

// SaveFile writes the checkpoint to path.
func (c *Checkpoint) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if err := c.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return f.Close()
}

// ReadCheckpoint decodes a msgpack checkpoint.
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	var c Checkpoint
	if err := msgpack.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	if c.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCheckpoint, c.Version)
	}
	return &c, nil
}

// Model rebuilds the network described by the checkpoint.
func (c *Checkpoint) Model() (*Model, error) {
	m, err := New(c.Config)
	if err != nil {
		return nil, err
	}
	if err := m.LoadState(c.Tensors); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads a checkpoint and rebuilds its model.
func Load(r io.Reader) (*Model, *Checkpoint, error) {
	c, err := ReadCheckpoint(r)
	if err != nil {
		return nil, nil, err
	}
	m, err := c.Model()
	if err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

// LoadFile is Load for a file path.
func LoadFile(path string) (*Model, *Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	return Load(f)
}
