package nn

import (
	"math"
)

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	params []*Tensor
	m      [][]float64
	v      [][]float64
	step   int
}

// NewAdamW creates an optimiser over params with the usual defaults
// (betas 0.9/0.999, eps 1e-8).
func NewAdamW(params []*Tensor, lr, weightDecay float64) *AdamW {
	opt := &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		params:      params,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.m[i] = make([]float64, p.Size())
		opt.v[i] = make([]float64, p.Size())
	}
	return opt
}

// ZeroGrad clears the gradients of all parameters.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// Step applies one update using the accumulated gradients.
func (o *AdamW) Step() {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for i, p := range o.params {
		if p.Grad == nil {
			continue
		}
		r, c := p.Dims()
		m, v := o.m[i], o.v[i]
		for row := 0; row < r; row++ {
			val := p.Value.RawRowView(row)
			grad := p.Grad.RawRowView(row)
			for col := 0; col < c; col++ {
				k := row*c + col
				gv := grad[col]
				val[col] -= o.LR * o.WeightDecay * val[col]
				m[k] = o.Beta1*m[k] + (1-o.Beta1)*gv
				v[k] = o.Beta2*v[k] + (1-o.Beta2)*gv*gv
				mHat := m[k] / bc1
				vHat := v[k] / bc2
				val[col] -= o.LR * mHat / (math.Sqrt(vHat) + o.Eps)
			}
		}
	}
}

// CosineAnnealing decays a base learning rate to MinLR over TMax steps along a
// half cosine.
type CosineAnnealing struct {
	BaseLR float64
	MinLR  float64
	TMax   int
}

// LR returns the learning rate for step t.
func (s CosineAnnealing) LR(t int) float64 {
	if s.TMax <= 0 {
		return s.BaseLR
	}
	return s.MinLR + (s.BaseLR-s.MinLR)*(1+math.Cos(math.Pi*float64(t)/float64(s.TMax)))/2
}

// ClipGradNorm rescales all gradients so that their joint L2 norm is at most
// maxNorm. It returns the norm before clipping.
func ClipGradNorm(params []*Tensor, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		r, _ := p.Dims()
		for i := 0; i < r; i++ {
			for _, gv := range p.Grad.RawRowView(i) {
				sq += gv * gv
			}
		}
	}
	norm := math.Sqrt(sq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, p := range params {
			if p.Grad != nil {
				p.Grad.Scale(scale, p.Grad)
			}
		}
	}
	return norm
}

// CountParams returns the total number of elements in params.
func CountParams(params []*Tensor) int {
	var n int
	for _, p := range params {
		n += p.Size()
	}
	return n
}
