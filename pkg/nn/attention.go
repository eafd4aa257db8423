package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// attentionEps keeps the normaliser strictly positive.
const attentionEps = 1e-8

// LinearAttention computes FAVOR+ style kernelised attention for every sequence and
// head. q, k and v are (batch*length x heads*hd); features holds one fixed (hd x F)
// random projection per head. With phi(x) = softplus(x R):
//
//	out = phi(Q) (phi(K)^T V) / (phi(Q) phi(K)^T 1 + eps)
//
// The cost is linear in the sequence length. Intermediate products are recomputed
// during the backward pass instead of being stored.
func (g *Graph) LinearAttention(q, k, v *Tensor, features []*mat.Dense, batch int) *Tensor {
	r, d := q.Dims()
	mustSameShape(q.Value, k.Value)
	mustSameShape(q.Value, v.Value)
	heads := len(features)
	if heads == 0 || d%heads != 0 || batch <= 0 || r%batch != 0 {
		panic(fmt.Errorf("%w: attention input %dx%d, %d heads, batch %d", ErrShapeMismatch, r, d, heads, batch))
	}
	hd := d / heads
	length := r / batch
	for h, f := range features {
		if fr, _ := f.Dims(); fr != hd {
			panic(fmt.Errorf("%w: head %d features have %d rows, head dim is %d", ErrShapeMismatch, h, fr, hd))
		}
	}

	outV := mat.NewDense(r, d, nil)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			st := newHeadState(q, k, v, features[h], b*length, length, h*hd, hd)
			st.forward()
			outV.Slice(b*length, (b+1)*length, h*hd, (h+1)*hd).(*mat.Dense).Copy(st.o)
		}
	}

	out := g.node(outV, q, k, v)
	if out.requiresGrad {
		out.backward = func() {
			for b := 0; b < batch; b++ {
				for h := 0; h < heads; h++ {
					st := newHeadState(q, k, v, features[h], b*length, length, h*hd, hd)
					st.forward()
					gBlock := out.Grad.Slice(b*length, (b+1)*length, h*hd, (h+1)*hd)
					dq, dk, dv := st.backward(gBlock)
					accumulateBlock(q, dq, b*length, h*hd)
					accumulateBlock(k, dk, b*length, h*hd)
					accumulateBlock(v, dv, b*length, h*hd)
				}
			}
		}
	}
	return out
}

func accumulateBlock(t *Tensor, d *mat.Dense, row, col int) {
	if !t.requiresGrad || d == nil {
		return
	}
	r, c := d.Dims()
	view := t.grad().Slice(row, row+r, col, col+c).(*mat.Dense)
	view.Add(view, d)
}

// headState holds the per (sequence, head) intermediates.
type headState struct {
	qh, kh, vh mat.Matrix
	r          *mat.Dense

	pq, pk *mat.Dense // random projections
	fq, fk *mat.Dense // positive features
	s      *mat.Dense // phi(K)^T V, F x hd
	z      *mat.VecDense
	den    *mat.VecDense
	o      *mat.Dense
}

func newHeadState(q, k, v *Tensor, r *mat.Dense, row, length, col, hd int) *headState {
	return &headState{
		qh: q.Value.Slice(row, row+length, col, col+hd),
		kh: k.Value.Slice(row, row+length, col, col+hd),
		vh: v.Value.Slice(row, row+length, col, col+hd),
		r:  r,
	}
}

func applySoftplus(dst, src *mat.Dense) {
	dst.Apply(func(_, _ int, x float64) float64 { return softplus(x) }, src)
}

func (st *headState) forward() {
	length, hd := st.qh.Dims()
	_, f := st.r.Dims()

	st.pq = mat.NewDense(length, f, nil)
	st.pq.Mul(st.qh, st.r)
	st.pk = mat.NewDense(length, f, nil)
	st.pk.Mul(st.kh, st.r)
	st.fq = mat.NewDense(length, f, nil)
	applySoftplus(st.fq, st.pq)
	st.fk = mat.NewDense(length, f, nil)
	applySoftplus(st.fk, st.pk)

	st.s = mat.NewDense(f, hd, nil)
	st.s.Mul(st.fk.T(), st.vh)

	st.z = mat.NewVecDense(f, nil)
	for t := 0; t < length; t++ {
		st.z.AddVec(st.z, st.fk.RowView(t))
	}

	st.den = mat.NewVecDense(length, nil)
	st.den.MulVec(st.fq, st.z)
	st.o = mat.NewDense(length, hd, nil)
	st.o.Mul(st.fq, st.s)
	for t := 0; t < length; t++ {
		den := st.den.AtVec(t) + attentionEps
		st.den.SetVec(t, den)
		row := st.o.RawRowView(t)
		for j := range row {
			row[j] /= den
		}
	}
}

func (st *headState) backward(grad mat.Matrix) (dq, dk, dv *mat.Dense) {
	length, hd := st.qh.Dims()
	_, f := st.r.Dims()

	// out = N / den with N = fq S and den = fq z + eps
	dN := mat.NewDense(length, hd, nil)
	dDen := mat.NewVecDense(length, nil)
	for t := 0; t < length; t++ {
		den := st.den.AtVec(t)
		var acc float64
		for j := 0; j < hd; j++ {
			gv := grad.At(t, j)
			dN.Set(t, j, gv/den)
			acc += gv * st.o.At(t, j)
		}
		dDen.SetVec(t, -acc/den)
	}

	// dfq = dN S^T + dDen z^T
	dfq := mat.NewDense(length, f, nil)
	dfq.Mul(dN, st.s.T())
	var outer mat.Dense
	outer.Outer(1, dDen, st.z)
	dfq.Add(dfq, &outer)

	// dS = fq^T dN, dz = fq^T dDen
	dS := mat.NewDense(f, hd, nil)
	dS.Mul(st.fq.T(), dN)
	dz := mat.NewVecDense(f, nil)
	dz.MulVec(st.fq.T(), dDen)

	// dfk = V dS^T + 1 dz^T, dV = fk dS
	dfk := mat.NewDense(length, f, nil)
	dfk.Mul(st.vh, dS.T())
	for t := 0; t < length; t++ {
		row := dfk.RawRowView(t)
		for j := range row {
			row[j] += dz.AtVec(j)
		}
	}
	dv = mat.NewDense(length, hd, nil)
	dv.Mul(st.fk, dS)

	// softplus'(x) = sigmoid(x), then back through the projection
	dpq := mat.NewDense(length, f, nil)
	dpq.Apply(func(i, j int, gv float64) float64 { return gv * sigmoid(st.pq.At(i, j)) }, dfq)
	dpk := mat.NewDense(length, f, nil)
	dpk.Apply(func(i, j int, gv float64) float64 { return gv * sigmoid(st.pk.At(i, j)) }, dfk)

	dq = mat.NewDense(length, hd, nil)
	dq.Mul(dpq, st.r.T())
	dk = mat.NewDense(length, hd, nil)
	dk.Mul(dpk, st.r.T())
	return dq, dk, dv
}
