package train

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/pulsepeak/pkg/dataset"
	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/performer"
)

// Fold is the outcome of training without one subject and testing on it.
type Fold struct {
	Subject string
	Train   int
	Test    int
	Loss    float64
	Score   Score
	Epochs  History
}

// CVOptions configure leave-one-subject-out cross-validation.
type CVOptions struct {
	Train       Options
	WindowSize  int
	Stride      int
	ValFraction float64
	// Subjects restricts the held-out folds; empty means every subject.
	Subjects []string
	Workers  int
}

// CrossValidate trains one fresh model per held-out subject. Each model sees the
// windows of all other subjects, minus a validation share used for best-epoch
// selection, and is scored on the held-out subject. Subjects without labelled
// windows are skipped. Folds are returned sorted by subject.
func CrossValidate(ctx context.Context, subjects []*dataset.Subject, model performer.Config, opts CVOptions, log *zap.Logger, m *metrics.TrainingMetrics) ([]Fold, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ids := opts.Subjects
	if len(ids) == 0 {
		ids = dataset.SubjectIDs(subjects)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	folds := make([]*Fold, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			trainSet, testSet := dataset.LOSO(subjects, id, opts.WindowSize, opts.Stride)
			if testSet.Len() == 0 || trainSet.Len() == 0 {
				log.Warn("Skipping fold", zap.String("subject", id), zap.Int("train", trainSet.Len()), zap.Int("test", testSet.Len()))
				return nil
			}
			fit, val := trainSet.Split(opts.ValFraction, opts.Train.Seed)

			mdl, err := performer.New(model)
			if err != nil {
				return err
			}
			fo := opts.Train
			fo.Checkpoint = ""
			history, err := New(mdl, fo, log.With(zap.String("fold", id)), nil).Fit(ctx, fit, val)
			if err != nil {
				return fmt.Errorf("fold %s: %w", id, err)
			}
			loss, score, err := Evaluate(mdl, testSet, fo.BatchSize, F1Threshold)
			if err != nil {
				return fmt.Errorf("fold %s: %w", id, err)
			}

			folds[i] = &Fold{Subject: id, Train: fit.Len(), Test: testSet.Len(), Loss: loss, Score: score, Epochs: history}
			m.RecordFold(id, score.F1)
			log.Info("Fold",
				zap.String("subject", id),
				zap.Float64("loss", loss),
				zap.Float64("f1", score.F1),
				zap.Float64("precision", score.Precision),
				zap.Float64("recall", score.Recall))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Fold
	for _, f := range folds {
		if f != nil {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

// Summary is the mean and population standard deviation of the per-fold F1.
func Summary(folds []Fold) (mean, std float64) {
	if len(folds) == 0 {
		return 0, 0
	}
	f1 := make([]float64, len(folds))
	for i, f := range folds {
		f1[i] = f.Score.F1
	}
	return stat.PopMeanStdDev(f1, nil)
}
