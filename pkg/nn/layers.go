package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Module is anything holding trainable parameters.
type Module interface {
	Params() []*Tensor
}

// Linear is a fully connected layer y = xW + b with W stored as (in x out).
type Linear struct {
	W *Tensor
	B *Tensor
}

// NewLinear initialises weights and bias from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		W: NewParam(name+".weight", in, out),
		B: NewParam(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	l.W.Uniform(rng, bound)
	l.B.Uniform(rng, bound)
	return l
}

func (l *Linear) Params() []*Tensor { return []*Tensor{l.W, l.B} }

func (l *Linear) Forward(g *Graph, x *Tensor) *Tensor {
	return g.AddRow(g.MatMul(x, l.W), l.B)
}

// Im2Col unfolds a (batch*length x c) sequence tensor for a 1-D convolution with
// kernel k and zero padding pad. Row b*lout+t of the result holds the k input rows
// t-pad .. t-pad+k-1 of sequence b laid side by side (column kk*c+j).
func (g *Graph) Im2Col(a *Tensor, batch, k, pad int) *Tensor {
	r, c := a.Dims()
	if batch <= 0 || r%batch != 0 {
		panic(fmt.Errorf("%w: %d rows for batch %d", ErrShapeMismatch, r, batch))
	}
	length := r / batch
	lout := length + 2*pad - k + 1
	if lout <= 0 {
		panic(fmt.Errorf("%w: kernel %d longer than padded sequence %d", ErrShapeMismatch, k, length+2*pad))
	}

	v := mat.NewDense(batch*lout, c*k, nil)
	for b := 0; b < batch; b++ {
		for t := 0; t < lout; t++ {
			vr := v.RawRowView(b*lout + t)
			for kk := 0; kk < k; kk++ {
				src := t + kk - pad
				if src < 0 || src >= length {
					continue
				}
				copy(vr[kk*c:(kk+1)*c], a.Value.RawRowView(b*length+src))
			}
		}
	}

	out := g.node(v, a)
	if out.requiresGrad {
		out.backward = func() {
			d := mat.NewDense(r, c, nil)
			for b := 0; b < batch; b++ {
				for t := 0; t < lout; t++ {
					gr := out.Grad.RawRowView(b*lout + t)
					for kk := 0; kk < k; kk++ {
						src := t + kk - pad
						if src < 0 || src >= length {
							continue
						}
						dr := d.RawRowView(b*length + src)
						for j, gv := range gr[kk*c : (kk+1)*c] {
							dr[j] += gv
						}
					}
				}
			}
			a.accumulate(d)
		}
	}
	return out
}

// Conv1d is a 1-D convolution over sequence tensors, implemented as Im2Col followed
// by a matrix product with a (in*kernel x out) weight.
type Conv1d struct {
	W      *Tensor
	B      *Tensor
	Kernel int
	Pad    int
}

// NewConv1d initialises weights and bias from U(-1/sqrt(in*k), 1/sqrt(in*k)).
func NewConv1d(name string, in, out, kernel, pad int, rng *rand.Rand) *Conv1d {
	c := &Conv1d{
		W:      NewParam(name+".weight", in*kernel, out),
		B:      NewParam(name+".bias", 1, out),
		Kernel: kernel,
		Pad:    pad,
	}
	bound := 1 / math.Sqrt(float64(in*kernel))
	c.W.Uniform(rng, bound)
	c.B.Uniform(rng, bound)
	return c
}

func (c *Conv1d) Params() []*Tensor { return []*Tensor{c.W, c.B} }

func (c *Conv1d) Forward(g *Graph, x *Tensor, batch int) *Tensor {
	return g.AddRow(g.MatMul(g.Im2Col(x, batch, c.Kernel, c.Pad), c.W), c.B)
}

// PositionalEncoding returns the (length x dim) sinusoidal table
// PE[t, 2i] = sin(t / 10000^(2i/dim)), PE[t, 2i+1] = cos(...).
func PositionalEncoding(length, dim int) *mat.Dense {
	pe := mat.NewDense(length, dim, nil)
	for t := 0; t < length; t++ {
		row := pe.RawRowView(t)
		for i := 0; i < dim; i += 2 {
			div := math.Exp(float64(i) * -math.Log(10000) / float64(dim))
			row[i] = math.Sin(float64(t) * div)
			if i+1 < dim {
				row[i+1] = math.Cos(float64(t) * div)
			}
		}
	}
	return pe
}
