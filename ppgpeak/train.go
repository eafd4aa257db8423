package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/dataset"
	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/performer"
	"github.com/itohio/pulsepeak/pkg/report"
	"github.com/itohio/pulsepeak/pkg/train"
)

type trainFlags struct {
	epochs      int
	checkpoint  string
	historyPNG  string
	metricsFile string
}

func trainCommand(app *appContext) *cobra.Command {
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the Performer peak detector",
		Long: `Labels the dataset, splits the windows into training and validation sets
and trains the model. The checkpoint with the lowest validation loss is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.epochs > 0 {
				app.cfg.Train.Epochs = flags.epochs
			}
			if flags.checkpoint != "" {
				app.cfg.Train.Checkpoint = flags.checkpoint
			}

			subjects, err := app.labelled(cmd.Context())
			if err != nil {
				return err
			}
			sc := app.cfg.Signal
			ds := dataset.Build(subjects, sc.WindowSize(), sc.Stride())
			trainSet, valSet := ds.Split(app.cfg.Train.ValFraction, app.cfg.Train.Seed)

			model, err := performer.New(performer.ConfigFrom(app.cfg.Model, sc.WindowSize()))
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			m, err := metrics.NewTrainingMetrics(registry)
			if err != nil {
				return err
			}

			history, err := train.New(model, train.OptionsFrom(app.cfg.Train, sc.SampleRate), app.log, m).
				Fit(cmd.Context(), trainSet, valSet)
			if err != nil {
				return err
			}
			best, _ := history.Best()
			app.log.Info("Training finished",
				zap.Int("best_epoch", best.Epoch),
				zap.Float64("val_loss", best.ValLoss),
				zap.Float64("val_f1", best.ValF1),
				zap.String("checkpoint", app.cfg.Train.Checkpoint))

			if flags.historyPNG != "" {
				if err := report.SaveHistoryPNG(flags.historyPNG, history); err != nil {
					return err
				}
			}
			if flags.metricsFile != "" {
				if err := writeMetrics(flags.metricsFile, registry); err != nil {
					return err
				}
			}
			return printHistory(cmd, history)
		},
	}

	cmd.Flags().IntVar(&flags.epochs, "epochs", 0, "Override the configured number of epochs")
	cmd.Flags().StringVar(&flags.checkpoint, "checkpoint", "", "Override the checkpoint path")
	cmd.Flags().StringVar(&flags.historyPNG, "history-png", "training_history.png", "Learning curve plot (empty disables)")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write training metrics in Prometheus text format")
	return cmd
}

// writeMetrics stores the gathered metrics for node_exporter's textfile collector.
func writeMetrics(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func printHistory(cmd *cobra.Command, history train.History) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EPOCH\tTRAIN\tVAL\tF1\tLR")
	for _, e := range history {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.3f\t%.2e\n", e.Epoch, e.TrainLoss, e.ValLoss, e.ValF1, e.LR)
	}
	return tw.Flush()
}
