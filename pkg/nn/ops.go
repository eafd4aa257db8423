package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatMul returns a*b.
func (g *Graph) MatMul(a, b *Tensor) *Tensor {
	ar, _ := a.Dims()
	_, bc := b.Dims()
	v := mat.NewDense(ar, bc, nil)
	v.Mul(a.Value, b.Value)

	out := g.node(v, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				var d mat.Dense
				d.Mul(out.Grad, b.Value.T())
				a.accumulate(&d)
			}
			if b.requiresGrad {
				var d mat.Dense
				d.Mul(a.Value.T(), out.Grad)
				b.accumulate(&d)
			}
		}
	}
	return out
}

// Add returns a+b for equally shaped tensors.
func (g *Graph) Add(a, b *Tensor) *Tensor {
	mustSameShape(a.Value, b.Value)
	var v mat.Dense
	v.Add(a.Value, b.Value)

	out := g.node(&v, a, b)
	if out.requiresGrad {
		out.backward = func() {
			a.accumulate(out.Grad)
			b.accumulate(out.Grad)
		}
	}
	return out
}

// AddRow adds a 1 x c row vector to every row of a.
func (g *Graph) AddRow(a, row *Tensor) *Tensor {
	r, c := a.Dims()
	if rr, rc := row.Dims(); rr != 1 || rc != c {
		panic(fmt.Errorf("%w: row %dx%d for %dx%d", ErrShapeMismatch, rr, rc, r, c))
	}
	v := mat.DenseCopyOf(a.Value)
	bias := row.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		vr := v.RawRowView(i)
		for j := range vr {
			vr[j] += bias[j]
		}
	}

	out := g.node(v, a, row)
	if out.requiresGrad {
		out.backward = func() {
			a.accumulate(out.Grad)
			if row.requiresGrad {
				sum := mat.NewDense(1, c, nil)
				s := sum.RawRowView(0)
				for i := 0; i < r; i++ {
					for j, gv := range out.Grad.RawRowView(i) {
						s[j] += gv
					}
				}
				row.accumulate(sum)
			}
		}
	}
	return out
}

// AddConst adds a constant (length x c) table to every sequence of a
// (batch*length x c), e.g. a positional encoding.
func (g *Graph) AddConst(a *Tensor, table *mat.Dense) *Tensor {
	r, c := a.Dims()
	length, tc := table.Dims()
	if tc != c || r%length != 0 {
		panic(fmt.Errorf("%w: table %dx%d for %dx%d", ErrShapeMismatch, length, tc, r, c))
	}
	v := mat.DenseCopyOf(a.Value)
	for i := 0; i < r; i++ {
		vr := v.RawRowView(i)
		for j, tv := range table.RawRowView(i % length) {
			vr[j] += tv
		}
	}

	out := g.node(v, a)
	if out.requiresGrad {
		out.backward = func() { a.accumulate(out.Grad) }
	}
	return out
}

// Reshape reinterprets a in row-major order as r x c.
func (g *Graph) Reshape(a *Tensor, r, c int) *Tensor {
	if a.Size() != r*c {
		ar, ac := a.Dims()
		panic(fmt.Errorf("%w: cannot reshape %dx%d to %dx%d", ErrShapeMismatch, ar, ac, r, c))
	}
	ar, ac := a.Dims()
	out := g.node(mat.NewDense(r, c, Flatten(a.Value)), a)
	if out.requiresGrad {
		out.backward = func() {
			a.accumulate(mat.NewDense(ar, ac, Flatten(out.Grad)))
		}
	}
	return out
}

// elementwise applies f to every element and uses df(x, y) for the local derivative.
func (g *Graph) elementwise(a *Tensor, f func(x float64) float64, df func(x, y float64) float64) *Tensor {
	r, c := a.Dims()
	v := mat.NewDense(r, c, nil)
	v.Apply(func(_, _ int, x float64) float64 { return f(x) }, a.Value)

	out := g.node(v, a)
	if out.requiresGrad {
		out.backward = func() {
			d := mat.NewDense(r, c, nil)
			d.Apply(func(i, j int, gv float64) float64 {
				return gv * df(a.Value.At(i, j), v.At(i, j))
			}, out.Grad)
			a.accumulate(d)
		}
	}
	return out
}

// GELU applies the exact (erf) Gaussian error linear unit.
func (g *Graph) GELU(a *Tensor) *Tensor {
	return g.elementwise(a,
		func(x float64) float64 { return 0.5 * x * (1 + math.Erf(x/math.Sqrt2)) },
		func(x, _ float64) float64 {
			cdf := 0.5 * (1 + math.Erf(x/math.Sqrt2))
			pdf := math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
			return cdf + x*pdf
		})
}

// Sigmoid applies the logistic function.
func (g *Graph) Sigmoid(a *Tensor) *Tensor {
	return g.elementwise(a, sigmoid, func(_, y float64) float64 { return y * (1 - y) })
}

// Dropout zeroes elements with probability p and rescales the rest by 1/(1-p).
// It is the identity outside training.
func (g *Graph) Dropout(a *Tensor, p float64) *Tensor {
	if !g.training || p <= 0 {
		return a
	}
	r, c := a.Dims()
	scale := 1 / (1 - p)
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		mr := mask.RawRowView(i)
		for j := range mr {
			if g.rng.Float64() >= p {
				mr[j] = scale
			}
		}
	}
	var v mat.Dense
	v.MulElem(a.Value, mask)

	out := g.node(&v, a)
	if out.requiresGrad {
		out.backward = func() {
			var d mat.Dense
			d.MulElem(out.Grad, mask)
			a.accumulate(&d)
		}
	}
	return out
}
