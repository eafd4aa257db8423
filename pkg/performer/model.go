// Package performer implements the linear-attention Transformer that maps a PPG
// window to a per-sample peak probability curve.
package performer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/nn"
)

var (
	ErrInvalidConfig = errors.New("invalid model configuration")
	ErrWindowSize    = errors.New("input length does not fit the model")
)

// Config describes the architecture.
type Config struct {
	Window     int     `msgpack:"window"`
	DModel     int     `msgpack:"d_model"`
	Heads      int     `msgpack:"heads"`
	Layers     int     `msgpack:"layers"`
	Features   int     `msgpack:"features"`
	FFMultiple int     `msgpack:"ff_multiple"`
	Dropout    float64 `msgpack:"dropout"`
	Seed       int64   `msgpack:"seed"`
}

// ConfigFrom builds the architecture for windows of the given length.
func ConfigFrom(m config.ModelConfig, window int) Config {
	return Config{
		Window:     window,
		DModel:     m.DModel,
		Heads:      m.Heads,
		Layers:     m.Layers,
		Features:   m.Features,
		FFMultiple: m.FFMultiple,
		Dropout:    m.Dropout,
		Seed:       m.Seed,
	}
}

func (c Config) validate() error {
	switch {
	case c.Window <= 0:
		return fmt.Errorf("%w: window %d", ErrInvalidConfig, c.Window)
	case c.DModel < 2 || c.DModel%2 != 0:
		return fmt.Errorf("%w: d_model %d must be even", ErrInvalidConfig, c.DModel)
	case c.Heads <= 0 || c.DModel%c.Heads != 0:
		return fmt.Errorf("%w: d_model %d not divisible by %d heads", ErrInvalidConfig, c.DModel, c.Heads)
	case c.Layers < 0 || c.Features <= 0 || c.FFMultiple <= 0:
		return fmt.Errorf("%w: layers %d, features %d, ff multiple %d", ErrInvalidConfig, c.Layers, c.Features, c.FFMultiple)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout %.2f", ErrInvalidConfig, c.Dropout)
	}
	return nil
}

// Attention is multi-head FAVOR+ attention with learned projections and fixed
// per-head random features.
type Attention struct {
	Q, K, V, O *nn.Linear
	Features   []*nn.Tensor
}

func newAttention(name string, cfg Config, rng *rand.Rand) *Attention {
	d := cfg.DModel
	hd := d / cfg.Heads
	a := &Attention{
		Q: nn.NewLinear(name+".q_proj", d, d, rng),
		K: nn.NewLinear(name+".k_proj", d, d, rng),
		V: nn.NewLinear(name+".v_proj", d, d, rng),
		O: nn.NewLinear(name+".out_proj", d, d, rng),
	}
	for h := 0; h < cfg.Heads; h++ {
		f := nn.NewBuffer(fmt.Sprintf("%s.random_features.%d", name, h), hd, cfg.Features)
		f.Normal(rng, 1/math.Sqrt(float64(cfg.Features)))
		a.Features = append(a.Features, f)
	}
	return a
}

func (a *Attention) Params() []*nn.Tensor {
	var out []*nn.Tensor
	for _, l := range []*nn.Linear{a.Q, a.K, a.V, a.O} {
		out = append(out, l.Params()...)
	}
	return out
}

func (a *Attention) Forward(g *nn.Graph, x *nn.Tensor, batch int) *nn.Tensor {
	features := make([]*mat.Dense, len(a.Features))
	for i, f := range a.Features {
		features[i] = f.Value
	}
	attn := g.LinearAttention(a.Q.Forward(g, x), a.K.Forward(g, x), a.V.Forward(g, x), features, batch)
	return a.O.Forward(g, attn)
}

// Block is a pre-norm Transformer block.
type Block struct {
	Norm1, Norm2 *nn.LayerNorm
	Attn         *Attention
	FF1, FF2     *nn.Linear
	dropout      float64
}

func newBlock(name string, cfg Config, rng *rand.Rand) *Block {
	ff := cfg.DModel * cfg.FFMultiple
	return &Block{
		Norm1:   nn.NewLayerNorm(name+".norm1", cfg.DModel),
		Norm2:   nn.NewLayerNorm(name+".norm2", cfg.DModel),
		Attn:    newAttention(name+".attention", cfg, rng),
		FF1:     nn.NewLinear(name+".ff.0", cfg.DModel, ff, rng),
		FF2:     nn.NewLinear(name+".ff.3", ff, cfg.DModel, rng),
		dropout: cfg.Dropout,
	}
}

func (b *Block) Params() []*nn.Tensor {
	out := append(b.Norm1.Params(), b.Norm2.Params()...)
	out = append(out, b.Attn.Params()...)
	out = append(out, b.FF1.Params()...)
	return append(out, b.FF2.Params()...)
}

func (b *Block) Forward(g *nn.Graph, x *nn.Tensor, batch int) *nn.Tensor {
	x = g.Add(x, g.Dropout(b.Attn.Forward(g, b.Norm1.Forward(g, x), batch), b.dropout))

	ff := g.GELU(b.FF1.Forward(g, b.Norm2.Forward(g, x)))
	ff = g.Dropout(b.FF2.Forward(g, g.Dropout(ff, b.dropout)), b.dropout)
	return g.Add(x, ff)
}

// Model is the peak detector: a convolutional embedding, positional encoding,
// a stack of linear-attention blocks and a convolutional decoder with a sigmoid.
type Model struct {
	cfg Config

	embed1 *nn.Conv1d
	norm1  *nn.BatchNorm
	embed2 *nn.Conv1d
	norm2  *nn.BatchNorm
	pe     *mat.Dense
	blocks []*Block
	dec1   *nn.Conv1d
	norm3  *nn.BatchNorm
	dec2   *nn.Conv1d
}

// New builds a model with freshly initialised weights.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	d, half := cfg.DModel, cfg.DModel/2

	m := &Model{
		cfg:    cfg,
		embed1: nn.NewConv1d("embedding.0", 1, half, 7, 3, rng),
		norm1:  nn.NewBatchNorm("embedding.1", half),
		embed2: nn.NewConv1d("embedding.3", half, d, 5, 2, rng),
		norm2:  nn.NewBatchNorm("embedding.4", d),
		pe:     nn.PositionalEncoding(cfg.Window, d),
		dec1:   nn.NewConv1d("decoder.0", d, half, 5, 2, rng),
		norm3:  nn.NewBatchNorm("decoder.1", half),
		dec2:   nn.NewConv1d("decoder.3", half, 1, 3, 1, rng),
	}
	for i := 0; i < cfg.Layers; i++ {
		m.blocks = append(m.blocks, newBlock(fmt.Sprintf("transformer.%d", i), cfg, rng))
	}
	return m, nil
}

// Config returns the architecture.
func (m *Model) Config() Config { return m.cfg }

// Params returns every trainable tensor in a stable order.
func (m *Model) Params() []*nn.Tensor {
	var out []*nn.Tensor
	out = append(out, m.embed1.Params()...)
	out = append(out, m.norm1.Params()...)
	out = append(out, m.embed2.Params()...)
	out = append(out, m.norm2.Params()...)
	for _, b := range m.blocks {
		out = append(out, b.Params()...)
	}
	out = append(out, m.dec1.Params()...)
	out = append(out, m.norm3.Params()...)
	return append(out, m.dec2.Params()...)
}

// Buffers returns the non-trainable state: batch norm statistics and attention
// random features.
func (m *Model) Buffers() []*nn.Tensor {
	var out []*nn.Tensor
	out = append(out, m.norm1.Buffers()...)
	out = append(out, m.norm2.Buffers()...)
	for _, b := range m.blocks {
		out = append(out, b.Attn.Features...)
	}
	return append(out, m.norm3.Buffers()...)
}

// NumParams is the number of trainable scalars.
func (m *Model) NumParams() int {
	return nn.CountParams(m.Params())
}

// Forward runs a batch of equally long windows and returns the (batch x length)
// probability tensor.
func (m *Model) Forward(g *nn.Graph, x [][]float64) (*nn.Tensor, error) {
	batch := len(x)
	if batch == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrWindowSize)
	}
	length := len(x[0])
	if length == 0 || length > m.cfg.Window {
		return nil, fmt.Errorf("%w: length %d, model window %d", ErrWindowSize, length, m.cfg.Window)
	}
	data := make([]float64, 0, batch*length)
	for i, row := range x {
		if len(row) != length {
			return nil, fmt.Errorf("%w: window %d has %d samples, expected %d", ErrWindowSize, i, len(row), length)
		}
		data = append(data, row...)
	}

	h := g.Input(mat.NewDense(batch*length, 1, data))
	h = g.GELU(m.norm1.Forward(g, m.embed1.Forward(g, h, batch)))
	h = g.GELU(m.norm2.Forward(g, m.embed2.Forward(g, h, batch)))
	h = g.AddConst(h, m.pe.Slice(0, length, 0, m.cfg.DModel).(*mat.Dense))

	for _, b := range m.blocks {
		h = b.Forward(g, h, batch)
	}

	h = g.GELU(m.norm3.Forward(g, m.dec1.Forward(g, h, batch)))
	h = g.Sigmoid(m.dec2.Forward(g, h, batch))
	return g.Reshape(h, batch, length), nil
}

// Predict runs the model in evaluation mode over x in chunks of batchSize windows.
func (m *Model) Predict(x [][]float64, batchSize int) ([][]float64, error) {
	if batchSize <= 0 {
		batchSize = len(x)
	}
	out := make([][]float64, 0, len(x))
	for start := 0; start < len(x); start += batchSize {
		end := start + batchSize
		if end > len(x) {
			end = len(x)
		}
		g := nn.NewGraph(false, nil)
		probs, err := m.Forward(g, x[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, nn.Rows(probs.Value)...)
	}
	return out, nil
}
