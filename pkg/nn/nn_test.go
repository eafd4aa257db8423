package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// weightedSum reduces a to the scalar sum(a * w) so that every element of a gets a
// distinct upstream gradient.
func weightedSum(g *Graph, a *Tensor, w *mat.Dense) *Tensor {
	var prod mat.Dense
	prod.MulElem(a.Value, w)
	out := g.node(mat.NewDense(1, 1, []float64{mat.Sum(&prod)}), a)
	if out.requiresGrad {
		out.backward = func() {
			var d mat.Dense
			d.Scale(out.Grad.At(0, 0), w)
			a.accumulate(&d)
		}
	}
	return out
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

func randomParam(rng *rand.Rand, name string, r, c int) *Tensor {
	p := NewParam(name, r, c)
	p.Normal(rng, 1)
	return p
}

// checkGradients compares analytic gradients of loss(g) against central differences.
func checkGradients(t *testing.T, params []*Tensor, training bool, loss func(g *Graph) *Tensor) {
	t.Helper()
	const h = 1e-5

	for _, p := range params {
		p.ZeroGrad()
	}
	g := NewGraph(training, rand.New(rand.NewSource(1)))
	require.NoError(t, g.Backward(loss(g)))

	eval := func() float64 {
		return loss(NewGraph(training, rand.New(rand.NewSource(1)))).Scalar()
	}

	for _, p := range params {
		r, c := p.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := p.Value.At(i, j)
				p.Value.Set(i, j, orig+h)
				plus := eval()
				p.Value.Set(i, j, orig-h)
				minus := eval()
				p.Value.Set(i, j, orig)

				numeric := (plus - minus) / (2 * h)
				analytic := p.Grad.At(i, j)
				assert.InDelta(t, numeric, analytic, 1e-5+1e-3*math.Abs(numeric),
					"%s[%d,%d]", p.Name, i, j)
			}
		}
	}
}

func TestGradients_DenseStack(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := randomDense(rng, 4, 3)
	w := randomDense(rng, 4, 2)
	lin := NewLinear("lin", 3, 2, rng)

	checkGradients(t, lin.Params(), false, func(g *Graph) *Tensor {
		y := g.Sigmoid(g.GELU(lin.Forward(g, g.Input(x))))
		return weightedSum(g, y, w)
	})
}

func TestGradients_AddAndReshape(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomParam(rng, "a", 4, 3)
	b := randomParam(rng, "b", 4, 3)
	table := randomDense(rng, 2, 3)
	w := randomDense(rng, 2, 6)

	checkGradients(t, []*Tensor{a, b}, false, func(g *Graph) *Tensor {
		y := g.Reshape(g.AddConst(g.Add(a, b), table), 2, 6)
		return weightedSum(g, y, w)
	})
}

func TestGradients_LayerNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := randomParam(rng, "x", 3, 5)
	ln := NewLayerNorm("ln", 5)
	ln.Gamma.Normal(rng, 1)
	ln.Beta.Normal(rng, 1)
	w := randomDense(rng, 3, 5)

	checkGradients(t, append([]*Tensor{x}, ln.Params()...), false, func(g *Graph) *Tensor {
		return weightedSum(g, ln.Forward(g, x), w)
	})
}

func TestGradients_BatchNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randomParam(rng, "x", 6, 3)
	bn := NewBatchNorm("bn", 3)
	bn.Gamma.Normal(rng, 1)
	w := randomDense(rng, 6, 3)

	for _, training := range []bool{true, false} {
		checkGradients(t, append([]*Tensor{x}, bn.Params()...), training, func(g *Graph) *Tensor {
			return weightedSum(g, bn.Forward(g, x), w)
		})
	}
}

func TestGradients_Conv1d(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	x := randomParam(rng, "x", 2*5, 2) // batch 2, length 5, 2 channels
	conv := NewConv1d("conv", 2, 3, 3, 1, rng)
	w := randomDense(rng, 10, 3)

	checkGradients(t, append([]*Tensor{x}, conv.Params()...), false, func(g *Graph) *Tensor {
		return weightedSum(g, conv.Forward(g, x, 2), w)
	})
}

func TestGradients_LinearAttention(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	// batch 2, length 4, 2 heads of dim 2, 3 random features
	q := randomParam(rng, "q", 8, 4)
	k := randomParam(rng, "k", 8, 4)
	v := randomParam(rng, "v", 8, 4)
	features := []*mat.Dense{randomDense(rng, 2, 3), randomDense(rng, 2, 3)}
	w := randomDense(rng, 8, 4)

	checkGradients(t, []*Tensor{q, k, v}, false, func(g *Graph) *Tensor {
		return weightedSum(g, g.LinearAttention(q, k, v, features, 2), w)
	})
}

func TestGradients_BCE(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	logits := randomParam(rng, "logits", 2, 5)
	target := mat.NewDense(2, 5, []float64{0, 1, 0, 0, 1, 1, 0, 0, 1, 0})

	checkGradients(t, []*Tensor{logits}, false, func(g *Graph) *Tensor {
		return g.BCE(g.Sigmoid(logits), target)
	})
}

func TestLinearAttention_Forward(t *testing.T) {
	// with V constant along the sequence every output row equals that constant
	rng := rand.New(rand.NewSource(9))
	g := NewGraph(false, nil)
	q := g.Input(randomDense(rng, 5, 2))
	k := g.Input(randomDense(rng, 5, 2))
	vals := make([]float64, 10)
	for i := range vals {
		vals[i] = float64(i%2) + 1
	}
	v := g.Input(mat.NewDense(5, 2, vals))

	out := g.LinearAttention(q, k, v, []*mat.Dense{randomDense(rng, 2, 4)}, 1)
	for i := 0; i < 5; i++ {
		assert.InDelta(t, 1, out.Value.At(i, 0), 1e-6)
		assert.InDelta(t, 2, out.Value.At(i, 1), 1e-6)
	}
	assert.False(t, out.RequiresGrad())
}

func TestLinearAttention_ShapePanics(t *testing.T) {
	g := NewGraph(false, nil)
	q := g.Input(mat.NewDense(4, 3, nil))
	assert.PanicsWithError(t, "shape mismatch: attention input 4x3, 2 heads, batch 1",
		func() { g.LinearAttention(q, q, q, []*mat.Dense{mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil)}, 1) })
}

func TestBCE_Value(t *testing.T) {
	g := NewGraph(false, nil)
	pred := g.Input(mat.NewDense(1, 2, []float64{0.5, 0}))
	loss := g.BCE(pred, mat.NewDense(1, 2, []float64{1, 1}))
	// -(log 0.5 + clamp(log 0)) / 2
	assert.InDelta(t, (math.Ln2+100)/2, loss.Scalar(), 1e-12)
}

func TestBackward_Errors(t *testing.T) {
	g := NewGraph(false, nil)
	p := NewParam("p", 2, 2)
	assert.ErrorIs(t, g.Backward(p), ErrShapeMismatch)

	c := g.Input(mat.NewDense(1, 1, []float64{3}))
	assert.ErrorIs(t, g.Backward(g.Sigmoid(c)), ErrNoGradient)
}

func TestDropout(t *testing.T) {
	x := mat.NewDense(100, 100, nil)
	for i := 0; i < 100; i++ {
		for j := 0; j < 100; j++ {
			x.Set(i, j, 1)
		}
	}

	eval := NewGraph(false, nil)
	in := eval.Input(x)
	assert.Same(t, in, eval.Dropout(in, 0.5))

	train := NewGraph(true, rand.New(rand.NewSource(1)))
	out := train.Dropout(train.Input(x), 0.25)
	var zeros int
	for _, v := range Flatten(out.Value) {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 1/0.75, v, 1e-12)
		}
	}
	assert.InDelta(t, 2500, zeros, 300)
}

func TestBatchNorm_RunningStats(t *testing.T) {
	bn := NewBatchNorm("bn", 1)
	g := NewGraph(true, nil)
	x := g.Input(mat.NewDense(4, 1, []float64{1, 2, 3, 4}))
	out := bn.Forward(g, x)

	assert.InDelta(t, 0.25, bn.RunningMean.Value.At(0, 0), 1e-12)
	// unbiased variance of 1..4 is 5/3
	assert.InDelta(t, 0.9+0.1*5.0/3, bn.RunningVar.Value.At(0, 0), 1e-12)
	assert.InDelta(t, 0, mat.Sum(out.Value), 1e-9)
	assert.Len(t, bn.Buffers(), 2)

	eval := NewGraph(false, nil)
	y := bn.Forward(eval, eval.Input(mat.NewDense(1, 1, []float64{0.25})))
	assert.InDelta(t, 0, y.Value.At(0, 0), 1e-12)
}

func TestLayerNorm_Normalises(t *testing.T) {
	ln := NewLayerNorm("ln", 4)
	g := NewGraph(false, nil)
	out := ln.Forward(g, g.InputRows([][]float64{{1, 2, 3, 4}, {10, 10, 10, 14}}))
	for _, row := range Rows(out.Value) {
		var mean, sq float64
		for _, v := range row {
			mean += v
			sq += v * v
		}
		assert.InDelta(t, 0, mean/4, 1e-9)
		assert.InDelta(t, 1, sq/4, 1e-3)
	}
}

func TestIm2Col_Layout(t *testing.T) {
	g := NewGraph(false, nil)
	x := g.InputRows([][]float64{{1}, {2}, {3}, {4}, {5}, {6}}) // batch 2, length 3
	cols := g.Im2Col(x, 2, 3, 1)
	want := [][]float64{
		{0, 1, 2}, {1, 2, 3}, {2, 3, 0},
		{0, 4, 5}, {4, 5, 6}, {5, 6, 0},
	}
	assert.Equal(t, want, Rows(cols.Value))
}

func TestPositionalEncoding(t *testing.T) {
	pe := PositionalEncoding(10, 4)
	assert.Equal(t, []float64{0, 1, 0, 1}, Rows(pe)[0])
	assert.InDelta(t, math.Sin(3), pe.At(3, 0), 1e-12)
	assert.InDelta(t, math.Cos(3*math.Exp(-2*math.Log(10000)/4)), pe.At(3, 3), 1e-12)
}

func TestAdamW_Converges(t *testing.T) {
	p := NewParam("x", 1, 1)
	opt := NewAdamW([]*Tensor{p}, 0.1, 0)
	for i := 0; i < 500; i++ {
		opt.ZeroGrad()
		p.Grad.Set(0, 0, 2*(p.Value.At(0, 0)-3))
		opt.Step()
	}
	assert.InDelta(t, 3, p.Value.At(0, 0), 0.05)
}

func TestAdamW_WeightDecay(t *testing.T) {
	p := NewParam("x", 1, 1)
	p.Fill(1)
	opt := NewAdamW([]*Tensor{p}, 0.1, 0.5)
	opt.Step() // zero gradient: only the decoupled decay applies
	assert.InDelta(t, 0.95, p.Value.At(0, 0), 1e-12)
}

func TestCosineAnnealing(t *testing.T) {
	s := CosineAnnealing{BaseLR: 1e-3, TMax: 50}
	assert.InDelta(t, 1e-3, s.LR(0), 1e-15)
	assert.InDelta(t, 0.5e-3, s.LR(25), 1e-15)
	assert.InDelta(t, 0, s.LR(50), 1e-15)
	assert.Equal(t, 1e-3, CosineAnnealing{BaseLR: 1e-3}.LR(10))
}

func TestClipGradNorm(t *testing.T) {
	a := NewParam("a", 1, 2)
	a.Grad.Set(0, 0, 3)
	a.Grad.Set(0, 1, 4)

	norm := ClipGradNorm([]*Tensor{a}, 1)
	assert.InDelta(t, 5, norm, 1e-12)
	assert.InDelta(t, 0.6, a.Grad.At(0, 0), 1e-6)
	assert.InDelta(t, 0.8, a.Grad.At(0, 1), 1e-6)

	norm = ClipGradNorm([]*Tensor{a}, 10)
	assert.InDelta(t, 1, norm, 1e-5)
	assert.InDelta(t, 0.6, a.Grad.At(0, 0), 1e-6)
	assert.Equal(t, 2, CountParams([]*Tensor{a}))
}

func TestFromRows_Ragged(t *testing.T) {
	assert.Panics(t, func() { FromRows([][]float64{{1, 2}, {3}}) })
	assert.Panics(t, func() { FromRows(nil) })
}
