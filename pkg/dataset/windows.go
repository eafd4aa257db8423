package dataset

import (
	"errors"
	"math"
	"math/rand"

	"github.com/itohio/pulsepeak/pkg/dsp"
)

// ErrNoWindows is returned when a dataset has no usable windows.
var ErrNoWindows = errors.New("no labelled windows")

// Dataset is a set of equally sized, z-scored PPG windows and their binary targets.
type Dataset struct {
	X [][]float64
	Y [][]float64
	// Source holds the subject ID of each window.
	Source []string
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.X)
}

// WindowSize returns the window length, or 0 when empty.
func (d *Dataset) WindowSize() int {
	if d.Len() == 0 {
		return 0
	}
	return len(d.X[0])
}

func (d *Dataset) append(x, y [][]float64, id string) {
	d.X = append(d.X, x...)
	d.Y = append(d.Y, y...)
	for range x {
		d.Source = append(d.Source, id)
	}
}

// Subset returns the windows at the given indices. Slices are shared.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		X:      make([][]float64, len(idx)),
		Y:      make([][]float64, len(idx)),
		Source: make([]string, len(idx)),
	}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
		out.Source[i] = d.Source[j]
	}
	return out
}

// Windows cuts ppg into windows of size samples starting at 0, stride, ... while the
// start is below len(ppg)-size. Each window is z-scored; windows without any positive
// label are dropped.
func Windows(ppg, labels []float64, size, stride int) (x, y [][]float64) {
	if size <= 0 || stride <= 0 || len(labels) < len(ppg) {
		return nil, nil
	}
	for start := 0; start < len(ppg)-size; start += stride {
		lab := labels[start : start+size]
		if !anyPositive(lab) {
			continue
		}
		yw := make([]float64, size)
		copy(yw, lab)
		x = append(x, dsp.ZScore(ppg[start:start+size]))
		y = append(y, yw)
	}
	return x, y
}

func anyPositive(x []float64) bool {
	for _, v := range x {
		if v > 0 {
			return true
		}
	}
	return false
}

// Build windows every labelled subject.
func Build(subjects []*Subject, size, stride int) *Dataset {
	d := &Dataset{}
	for _, s := range subjects {
		x, y := Windows(s.PPG, s.Labels, size, stride)
		d.append(x, y, s.ID)
	}
	return d
}

// Split shuffles the windows with seed and holds out ceil(valFrac*n) of them.
func (d *Dataset) Split(valFrac float64, seed int64) (train, val *Dataset) {
	n := d.Len()
	nVal := int(math.Ceil(valFrac * float64(n)))
	if nVal > n {
		nVal = n
	}
	if nVal < 0 {
		nVal = 0
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return d.Subset(perm[nVal:]), d.Subset(perm[:nVal])
}

// LOSO builds a leave-one-subject-out split: windows of testID form the test set and
// everything else the training set.
func LOSO(subjects []*Subject, testID string, size, stride int) (train, test *Dataset) {
	train, test = &Dataset{}, &Dataset{}
	for _, s := range subjects {
		x, y := Windows(s.PPG, s.Labels, size, stride)
		if s.ID == testID {
			test.append(x, y, s.ID)
		} else {
			train.append(x, y, s.ID)
		}
	}
	return train, test
}
