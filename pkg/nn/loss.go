package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	logClamp   = -100.0
	bceGradEps = 1e-12
)

// BCE returns the mean binary cross-entropy between probabilities pred and targets.
// Log terms are clamped at -100 so that saturated predictions stay finite.
func (g *Graph) BCE(pred *Tensor, target *mat.Dense) *Tensor {
	mustSameShape(pred.Value, target)
	r, c := pred.Dims()
	n := float64(r * c)

	var sum float64
	for i := 0; i < r; i++ {
		pr, tr := pred.Value.RawRowView(i), target.RawRowView(i)
		for j, p := range pr {
			y := tr[j]
			sum -= y*math.Max(math.Log(p), logClamp) + (1-y)*math.Max(math.Log(1-p), logClamp)
		}
	}

	out := g.node(mat.NewDense(1, 1, []float64{sum / n}), pred)
	if out.requiresGrad {
		out.backward = func() {
			scale := out.Grad.At(0, 0) / n
			d := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				pr, tr, dr := pred.Value.RawRowView(i), target.RawRowView(i), d.RawRowView(i)
				for j, p := range pr {
					dr[j] = scale * (p - tr[j]) / math.Max(p*(1-p), bceGradEps)
				}
			}
			pred.accumulate(d)
		}
	}
	return out
}

// Scalar returns the value of a 1x1 tensor.
func (t *Tensor) Scalar() float64 { return t.Value.At(0, 0) }
