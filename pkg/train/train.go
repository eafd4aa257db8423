// Package train fits the peak model with mini-batch AdamW and evaluates it,
// including leave-one-subject-out cross-validation.
package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dataset"
	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/nn"
	"github.com/itohio/pulsepeak/pkg/performer"
)

// F1Threshold is the probability above which a sample counts as a peak when scoring.
const F1Threshold = 0.5

// Options control one training run.
type Options struct {
	Epochs      int
	BatchSize   int
	LR          float64
	WeightDecay float64
	ClipNorm    float64
	Seed        int64
	// Checkpoint, when set, receives the best model every time validation loss improves.
	Checkpoint string
	LogEvery   int
	SampleRate float64
}

func OptionsFrom(cfg config.TrainConfig, sampleRate float64) Options {
	return Options{
		Epochs:      cfg.Epochs,
		BatchSize:   cfg.BatchSize,
		LR:          cfg.LR,
		WeightDecay: cfg.WeightDecay,
		ClipNorm:    cfg.ClipNorm,
		Seed:        cfg.Seed,
		Checkpoint:  cfg.Checkpoint,
		LogEvery:    cfg.LogEvery,
		SampleRate:  sampleRate,
	}
}

// Epoch holds the results of one pass over the training set.
type Epoch struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	ValF1     float64 `json:"val_f1"`
	LR        float64 `json:"lr"`
}

type History []Epoch

// Best returns the epoch with the lowest validation loss.
func (h History) Best() (Epoch, bool) {
	if len(h) == 0 {
		return Epoch{}, false
	}
	best := h[0]
	for _, e := range h[1:] {
		if e.ValLoss < best.ValLoss {
			best = e
		}
	}
	return best, true
}

// Trainer owns the optimiser state for one model.
type Trainer struct {
	model   *performer.Model
	opts    Options
	log     *zap.Logger
	metrics *metrics.TrainingMetrics
	rng     *rand.Rand
}

func New(model *performer.Model, opts Options, log *zap.Logger, m *metrics.TrainingMetrics) *Trainer {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Trainer{
		model:   model,
		opts:    opts,
		log:     log,
		metrics: m,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// Fit trains for the configured number of epochs and leaves the model holding the
// weights of the epoch with the lowest validation loss. Without validation windows
// the training loss selects the best epoch.
func (t *Trainer) Fit(ctx context.Context, trainSet, valSet *dataset.Dataset) (History, error) {
	if trainSet.Len() == 0 {
		return nil, fmt.Errorf("training set: %w", dataset.ErrNoWindows)
	}
	params := t.model.Params()
	opt := nn.NewAdamW(params, t.opts.LR, t.opts.WeightDecay)
	sched := nn.CosineAnnealing{BaseLR: t.opts.LR, TMax: t.opts.Epochs}

	t.log.Info("Training",
		zap.Int("params", t.model.NumParams()),
		zap.Int("train", trainSet.Len()),
		zap.Int("val", valSet.Len()),
		zap.Int("epochs", t.opts.Epochs))

	var (
		history   History
		bestLoss  = math.Inf(1)
		bestState map[string]performer.TensorState
	)
	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		started := time.Now()
		opt.LR = sched.LR(epoch)

		trainLoss, err := t.epoch(ctx, opt, params, trainSet)
		if err != nil {
			return history, err
		}

		e := Epoch{Epoch: epoch + 1, TrainLoss: trainLoss, ValLoss: trainLoss, LR: opt.LR}
		if valSet.Len() > 0 {
			loss, score, err := Evaluate(t.model, valSet, t.opts.BatchSize, F1Threshold)
			if err != nil {
				return history, err
			}
			e.ValLoss, e.ValF1 = loss, score.F1
		}
		history = append(history, e)
		t.metrics.RecordEpoch(e.Epoch, e.TrainLoss, e.ValLoss, e.ValF1, e.LR, time.Since(started).Seconds())

		if t.opts.LogEvery > 0 && e.Epoch%t.opts.LogEvery == 0 {
			t.log.Info("Epoch",
				zap.Int("epoch", e.Epoch),
				zap.Float64("train_loss", e.TrainLoss),
				zap.Float64("val_loss", e.ValLoss),
				zap.Float64("f1", e.ValF1))
		}

		if e.ValLoss < bestLoss {
			bestLoss = e.ValLoss
			bestState = t.model.State()
			if err := t.save(e); err != nil {
				return history, err
			}
		}
	}

	if bestState != nil {
		if err := t.model.LoadState(bestState); err != nil {
			return history, err
		}
	}
	return history, nil
}

func (t *Trainer) epoch(ctx context.Context, opt *nn.AdamW, params []*nn.Tensor, ds *dataset.Dataset) (float64, error) {
	perm := t.rng.Perm(ds.Len())
	var losses []float64
	for start := 0; start < len(perm); start += t.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch := ds.Subset(perm[start:min(start+t.opts.BatchSize, len(perm))])

		g := nn.NewGraph(true, t.rng)
		out, err := t.model.Forward(g, batch.X)
		if err != nil {
			return 0, err
		}
		loss := g.BCE(out, nn.FromRows(batch.Y))

		opt.ZeroGrad()
		if err := g.Backward(loss); err != nil {
			return 0, err
		}
		t.metrics.ObserveGradNorm(nn.ClipGradNorm(params, t.opts.ClipNorm))
		opt.Step()
		losses = append(losses, loss.Scalar())
	}
	return floats.Sum(losses) / float64(len(losses)), nil
}

func (t *Trainer) save(e Epoch) error {
	if t.opts.Checkpoint == "" {
		return nil
	}
	ckpt := t.model.Checkpoint(t.opts.SampleRate)
	ckpt.Epoch = e.Epoch
	ckpt.ValLoss = e.ValLoss
	if err := ckpt.SaveFile(t.opts.Checkpoint); err != nil {
		return fmt.Errorf("save best model: %w", err)
	}
	t.log.Debug("Saved best model", zap.String("path", t.opts.Checkpoint), zap.Int("epoch", e.Epoch))
	return nil
}
