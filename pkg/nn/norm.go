package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const normEps = 1e-5

// LayerNorm normalises each row to zero mean and unit variance, then applies a
// learned per-channel scale and shift.
type LayerNorm struct {
	Gamma *Tensor
	Beta  *Tensor
}

func NewLayerNorm(name string, dim int) *LayerNorm {
	ln := &LayerNorm{
		Gamma: NewParam(name+".weight", 1, dim),
		Beta:  NewParam(name+".bias", 1, dim),
	}
	ln.Gamma.Fill(1)
	return ln
}

func (ln *LayerNorm) Params() []*Tensor { return []*Tensor{ln.Gamma, ln.Beta} }

func (ln *LayerNorm) Forward(g *Graph, x *Tensor) *Tensor {
	r, c := x.Dims()
	if _, gc := ln.Gamma.Dims(); gc != c {
		panic(fmt.Errorf("%w: layer norm over %d channels, input has %d", ErrShapeMismatch, gc, c))
	}
	gamma := ln.Gamma.Value.RawRowView(0)
	beta := ln.Beta.Value.RawRowView(0)

	xhat := mat.NewDense(r, c, nil)
	invStd := make([]float64, r)
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		xr := x.Value.RawRowView(i)
		var mean, variance float64
		for _, xv := range xr {
			mean += xv
		}
		mean /= float64(c)
		for _, xv := range xr {
			d := xv - mean
			variance += d * d
		}
		variance /= float64(c)
		invStd[i] = 1 / math.Sqrt(variance+normEps)

		hr, vr := xhat.RawRowView(i), v.RawRowView(i)
		for j, xv := range xr {
			hr[j] = (xv - mean) * invStd[i]
			vr[j] = hr[j]*gamma[j] + beta[j]
		}
	}

	out := g.node(v, x, ln.Gamma, ln.Beta)
	if out.requiresGrad {
		out.backward = func() {
			dGamma := mat.NewDense(1, c, nil)
			dBeta := mat.NewDense(1, c, nil)
			dg, db := dGamma.RawRowView(0), dBeta.RawRowView(0)
			dx := mat.NewDense(r, c, nil)
			dh := make([]float64, c)
			for i := 0; i < r; i++ {
				gr, hr, dr := out.Grad.RawRowView(i), xhat.RawRowView(i), dx.RawRowView(i)
				var meanDh, meanDhH float64
				for j, gv := range gr {
					dg[j] += gv * hr[j]
					db[j] += gv
					dh[j] = gv * gamma[j]
					meanDh += dh[j]
					meanDhH += dh[j] * hr[j]
				}
				meanDh /= float64(c)
				meanDhH /= float64(c)
				for j := range dr {
					dr[j] = invStd[i] * (dh[j] - meanDh - hr[j]*meanDhH)
				}
			}
			x.accumulate(dx)
			ln.Gamma.accumulate(dGamma)
			ln.Beta.accumulate(dBeta)
		}
	}
	return out
}

// BatchNorm normalises each channel (column) over all rows of the batch. Running
// estimates of mean and unbiased variance are used outside training.
type BatchNorm struct {
	Gamma       *Tensor
	Beta        *Tensor
	RunningMean *Tensor
	RunningVar  *Tensor
	Momentum    float64
}

func NewBatchNorm(name string, dim int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:       NewParam(name+".weight", 1, dim),
		Beta:        NewParam(name+".bias", 1, dim),
		RunningMean: NewBuffer(name+".running_mean", 1, dim),
		RunningVar:  NewBuffer(name+".running_var", 1, dim),
		Momentum:    0.1,
	}
	bn.Gamma.Fill(1)
	bn.RunningVar.Fill(1)
	return bn
}

func (bn *BatchNorm) Params() []*Tensor  { return []*Tensor{bn.Gamma, bn.Beta} }
func (bn *BatchNorm) Buffers() []*Tensor { return []*Tensor{bn.RunningMean, bn.RunningVar} }

func (bn *BatchNorm) Forward(g *Graph, x *Tensor) *Tensor {
	r, c := x.Dims()
	if _, gc := bn.Gamma.Dims(); gc != c {
		panic(fmt.Errorf("%w: batch norm over %d channels, input has %d", ErrShapeMismatch, gc, c))
	}
	gamma := bn.Gamma.Value.RawRowView(0)
	beta := bn.Beta.Value.RawRowView(0)
	runMean := bn.RunningMean.Value.RawRowView(0)
	runVar := bn.RunningVar.Value.RawRowView(0)

	mean := make([]float64, c)
	invStd := make([]float64, c)
	if g.training {
		variance := make([]float64, c)
		for i := 0; i < r; i++ {
			for j, xv := range x.Value.RawRowView(i) {
				mean[j] += xv
			}
		}
		for j := range mean {
			mean[j] /= float64(r)
		}
		for i := 0; i < r; i++ {
			for j, xv := range x.Value.RawRowView(i) {
				d := xv - mean[j]
				variance[j] += d * d
			}
		}
		for j := range variance {
			variance[j] /= float64(r)
			invStd[j] = 1 / math.Sqrt(variance[j]+normEps)

			unbiased := variance[j]
			if r > 1 {
				unbiased *= float64(r) / float64(r-1)
			}
			runMean[j] = (1-bn.Momentum)*runMean[j] + bn.Momentum*mean[j]
			runVar[j] = (1-bn.Momentum)*runVar[j] + bn.Momentum*unbiased
		}
	} else {
		copy(mean, runMean)
		for j := range invStd {
			invStd[j] = 1 / math.Sqrt(runVar[j]+normEps)
		}
	}

	xhat := mat.NewDense(r, c, nil)
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		xr, hr, vr := x.Value.RawRowView(i), xhat.RawRowView(i), v.RawRowView(i)
		for j, xv := range xr {
			hr[j] = (xv - mean[j]) * invStd[j]
			vr[j] = hr[j]*gamma[j] + beta[j]
		}
	}

	training := g.training
	out := g.node(v, x, bn.Gamma, bn.Beta)
	if out.requiresGrad {
		out.backward = func() {
			dGamma := mat.NewDense(1, c, nil)
			dBeta := mat.NewDense(1, c, nil)
			dg, db := dGamma.RawRowView(0), dBeta.RawRowView(0)
			meanDh := make([]float64, c)
			meanDhH := make([]float64, c)
			for i := 0; i < r; i++ {
				for j, gv := range out.Grad.RawRowView(i) {
					h := xhat.At(i, j)
					dg[j] += gv * h
					db[j] += gv
					meanDh[j] += gv * gamma[j]
					meanDhH[j] += gv * gamma[j] * h
				}
			}
			bn.Gamma.accumulate(dGamma)
			bn.Beta.accumulate(dBeta)
			if !x.requiresGrad {
				return
			}

			dx := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				gr, hr, dr := out.Grad.RawRowView(i), xhat.RawRowView(i), dx.RawRowView(i)
				for j := range dr {
					dh := gr[j] * gamma[j]
					if training {
						dr[j] = invStd[j] * (dh - meanDh[j]/float64(r) - hr[j]*meanDhH[j]/float64(r))
					} else {
						dr[j] = invStd[j] * dh
					}
				}
			}
			x.accumulate(dx)
		}
	}
	return out
}
