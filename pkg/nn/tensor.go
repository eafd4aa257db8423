// Package nn is a small reverse-mode automatic differentiation engine on top of
// gonum dense matrices, with the layers and optimiser needed by the peak model.
//
// Sequence activations are stored as (batch*length x channels) matrices: row
// b*length+t holds the channel vector of time step t of sequence b.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrNoGradient    = errors.New("loss does not depend on any parameter")
)

// Tensor is a matrix value in a computation graph together with its gradient.
type Tensor struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense

	requiresGrad bool
	backward     func()
}

// NewParam creates a trainable r x c tensor initialised to zeros.
func NewParam(name string, r, c int) *Tensor {
	return &Tensor{
		Name:         name,
		Value:        mat.NewDense(r, c, nil),
		Grad:         mat.NewDense(r, c, nil),
		requiresGrad: true,
	}
}

// NewBuffer creates a non-trainable named r x c tensor (running statistics, fixed
// projections).
func NewBuffer(name string, r, c int) *Tensor {
	return &Tensor{Name: name, Value: mat.NewDense(r, c, nil)}
}

// Dims returns the shape of the value.
func (t *Tensor) Dims() (int, int) { return t.Value.Dims() }

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		t.Grad.Zero()
	}
}

// Size is the number of elements.
func (t *Tensor) Size() int {
	r, c := t.Dims()
	return r * c
}

func (t *Tensor) grad() *mat.Dense {
	if t.Grad == nil {
		r, c := t.Value.Dims()
		t.Grad = mat.NewDense(r, c, nil)
	}
	return t.Grad
}

func (t *Tensor) accumulate(d mat.Matrix) {
	if !t.requiresGrad {
		return
	}
	g := t.grad()
	g.Add(g, d)
}

// Uniform fills t with values drawn from U(-bound, bound).
func (t *Tensor) Uniform(rng *rand.Rand, bound float64) {
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Value.Set(i, j, (2*rng.Float64()-1)*bound)
		}
	}
}

// Normal fills t with values drawn from N(0, std^2).
func (t *Tensor) Normal(rng *rand.Rand, std float64) {
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Value.Set(i, j, rng.NormFloat64()*std)
		}
	}
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Value.Set(i, j, v)
		}
	}
}

// Graph records the operations of one forward pass so that gradients can be
// propagated back to the parameters. A graph is used for a single step.
type Graph struct {
	training bool
	rng      *rand.Rand
	tape     []*Tensor
}

// NewGraph creates a graph. In training mode dropout is active and batch
// normalisation uses and updates batch statistics.
func NewGraph(training bool, rng *rand.Rand) *Graph {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Graph{training: training, rng: rng}
}

// Training reports whether the graph runs in training mode.
func (g *Graph) Training() bool { return g.training }

// Input wraps a constant matrix.
func (g *Graph) Input(m *mat.Dense) *Tensor {
	return &Tensor{Value: m}
}

// InputRows builds a constant from equally sized rows.
func (g *Graph) InputRows(rows [][]float64) *Tensor {
	return g.Input(FromRows(rows))
}

func (g *Graph) node(v *mat.Dense, inputs ...*Tensor) *Tensor {
	t := &Tensor{Value: v}
	for _, in := range inputs {
		if in.requiresGrad {
			t.requiresGrad = true
			break
		}
	}
	if t.requiresGrad {
		g.tape = append(g.tape, t)
	}
	return t
}

// Backward propagates the gradient of a scalar loss to every tensor that requires it.
func (g *Graph) Backward(loss *Tensor) error {
	if r, c := loss.Dims(); r != 1 || c != 1 {
		return fmt.Errorf("%w: loss must be 1x1, got %dx%d", ErrShapeMismatch, r, c)
	}
	if !loss.requiresGrad {
		return ErrNoGradient
	}
	loss.grad().Set(0, 0, 1)
	for i := len(g.tape) - 1; i >= 0; i-- {
		n := g.tape[i]
		if n.backward != nil && n.Grad != nil {
			n.backward()
		}
	}
	return nil
}

// FromRows copies equally sized rows into a dense matrix.
func FromRows(rows [][]float64) *mat.Dense {
	if len(rows) == 0 || len(rows[0]) == 0 {
		panic(fmt.Errorf("%w: empty input", ErrShapeMismatch))
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for _, r := range rows {
		if len(r) != c {
			panic(fmt.Errorf("%w: ragged rows %d and %d", ErrShapeMismatch, c, len(r)))
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), c, data)
}

// Flatten returns the elements of m in row-major order.
func Flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// Rows splits m into row slices.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func mustSameShape(a, b mat.Matrix) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, ar, ac, br, bc))
	}
}
