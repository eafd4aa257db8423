package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/dataset"
	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/infer"
	"github.com/itohio/pulsepeak/pkg/logging"
	"github.com/itohio/pulsepeak/pkg/peaks"
	"github.com/itohio/pulsepeak/pkg/performer"
)

// Synthetic stand-in dataset used when no records can be loaded.
const (
	syntheticSubjects = 8
	syntheticSeconds  = 300
)

// appContext is shared by all sub-commands. It is filled in by the root
// command's PersistentPreRunE.
type appContext struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *zap.Logger
}

// RootCommand creates and returns the root command.
func RootCommand(app *appContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ppgpeak",
		Short:        "PPG peak detection pipeline",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		labelCommand(app),
		trainCommand(app),
		losoCommand(app),
		detectCommand(app),
		serveCommand(app),
		acquireCommand(app),
		exportCommand(app),
		reportCommand(app),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.initialize()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app.log != nil {
			_ = app.log.Sync()
		}
	}

	return rootCmd
}

// initialize loads the configuration and builds the logger.
func (a *appContext) initialize() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// subjects loads the recording directory, falling back to synthetic subjects
// when allowed, and resamples everything onto the configured grid.
func (a *appContext) subjects(ctx context.Context) ([]*dataset.Subject, error) {
	lc := a.cfg.Labels
	subjects, err := dataset.LoadDir(ctx, lc.DatasetDir, lc.FilePattern, a.log)
	if err != nil {
		if !lc.DatasetFallback || ctx.Err() != nil {
			return nil, err
		}
		a.log.Warn("Failed to load dataset, using synthetic subjects", zap.Error(err))
		subjects = dataset.Synthetic(syntheticSubjects, syntheticSeconds, a.cfg.Train.Seed)
	}

	fs := a.cfg.Signal.SampleRate
	for _, s := range subjects {
		if s.SampleRate != fs {
			s.PPG = dsp.ResampleRate(s.PPG, s.SampleRate, fs)
			s.ECG = dsp.ResampleRate(s.ECG, s.SampleRate, fs)
			s.SampleRate = fs
		}
	}
	return subjects, nil
}

// labelled loads the subjects and transfers ECG R peaks onto their PPG.
func (a *appContext) labelled(ctx context.Context) ([]*dataset.Subject, error) {
	subjects, err := a.subjects(ctx)
	if err != nil {
		return nil, err
	}
	subjects = dataset.Label(subjects, peaks.NewLabeler(a.cfg.Labels), a.log)
	if len(subjects) == 0 {
		return nil, dataset.ErrNoSubjects
	}
	return subjects, nil
}

// detector loads a checkpoint and wraps it for sliding-window inference.
func (a *appContext) detector(path string) (*infer.Detector, float64, error) {
	if path == "" {
		path = a.cfg.Train.Checkpoint
	}
	model, ckpt, err := performer.LoadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	fs := ckpt.SampleRate
	if fs <= 0 {
		fs = a.cfg.Signal.SampleRate
	}
	a.log.Info("Model loaded",
		zap.String("path", path),
		zap.Int("epoch", ckpt.Epoch),
		zap.Float64("val_loss", ckpt.ValLoss),
		zap.Int("params", model.NumParams()))
	return infer.NewDetector(model, infer.OptionsFrom(a.cfg.Inference, fs), a.log), fs, nil
}
