package main

import (
	"fmt"
	"runtime"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/performer"
	"github.com/itohio/pulsepeak/pkg/train"
)

func losoCommand(app *appContext) *cobra.Command {
	var (
		subjects    []string
		workers     int
		epochs      int
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "loso",
		Short: "Leave-one-subject-out cross-validation",
		Long: `Trains one model per held-out subject on the windows of all other subjects
and reports precision, recall and F1 on the held-out subject.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if epochs > 0 {
				app.cfg.Train.Epochs = epochs
			}
			labelled, err := app.labelled(cmd.Context())
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			m, err := metrics.NewTrainingMetrics(registry)
			if err != nil {
				return err
			}

			sc := app.cfg.Signal
			folds, err := train.CrossValidate(cmd.Context(), labelled,
				performer.ConfigFrom(app.cfg.Model, sc.WindowSize()),
				train.CVOptions{
					Train:       train.OptionsFrom(app.cfg.Train, sc.SampleRate),
					WindowSize:  sc.WindowSize(),
					Stride:      sc.Stride(),
					ValFraction: app.cfg.Train.ValFraction,
					Subjects:    subjects,
					Workers:     workers,
				}, app.log, m)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SUBJECT\tTRAIN\tTEST\tLOSS\tPRECISION\tRECALL\tF1")
			for _, f := range folds {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.3f\t%.3f\t%.3f\n",
					f.Subject, f.Train, f.Test, f.Loss, f.Score.Precision, f.Score.Recall, f.Score.F1)
			}
			mean, std := train.Summary(folds)
			fmt.Fprintf(tw, "F1\t\t\t\t\t\t%.3f ± %.3f\n", mean, std)
			if err := tw.Flush(); err != nil {
				return err
			}

			if metricsFile != "" {
				return writeMetrics(metricsFile, registry)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&subjects, "subjects", nil, "Held-out subjects (default: all)")
	cmd.Flags().IntVar(&workers, "workers", max(1, runtime.NumCPU()/2), "Folds trained in parallel")
	cmd.Flags().IntVar(&epochs, "epochs", 0, "Override the configured number of epochs")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write per-fold metrics in Prometheus text format")
	return cmd
}
