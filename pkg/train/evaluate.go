package train

import (
	"github.com/itohio/pulsepeak/pkg/dataset"
	"github.com/itohio/pulsepeak/pkg/nn"
	"github.com/itohio/pulsepeak/pkg/performer"
)

const scoreEps = 1e-8

// Score is a sample-level confusion summary of thresholded probabilities.
type Score struct {
	TP, FP, FN float64
	Precision  float64
	Recall     float64
	F1         float64
}

// Add accumulates one window of predictions against its targets.
func (s *Score) Add(pred, target []float64, threshold float64) {
	for i, p := range pred {
		hit := 0.0
		if p > threshold {
			hit = 1
		}
		y := target[i]
		s.TP += hit * y
		s.FP += hit * (1 - y)
		s.FN += (1 - hit) * y
	}
	s.finish()
}

func (s *Score) finish() {
	s.Precision = s.TP / (s.TP + s.FP + scoreEps)
	s.Recall = s.TP / (s.TP + s.FN + scoreEps)
	s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall + scoreEps)
}

// Evaluate runs the model in evaluation mode over ds and returns the mean BCE and
// the sample-level score at threshold.
func Evaluate(m *performer.Model, ds *dataset.Dataset, batchSize int, threshold float64) (float64, Score, error) {
	var (
		score Score
		sum   float64
		count int
	)
	if ds.Len() == 0 {
		return 0, score, dataset.ErrNoWindows
	}
	if batchSize <= 0 {
		batchSize = ds.Len()
	}
	for start := 0; start < ds.Len(); start += batchSize {
		end := min(start+batchSize, ds.Len())
		g := nn.NewGraph(false, nil)
		out, err := m.Forward(g, ds.X[start:end])
		if err != nil {
			return 0, score, err
		}
		loss := g.BCE(out, nn.FromRows(ds.Y[start:end]))
		n := (end - start) * len(ds.Y[start])
		sum += loss.Scalar() * float64(n)
		count += n
		for i, row := range nn.Rows(out.Value) {
			score.Add(row, ds.Y[start+i], threshold)
		}
	}
	return sum / float64(count), score, nil
}
