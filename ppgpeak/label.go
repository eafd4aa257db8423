package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/dataset"
	"github.com/itohio/pulsepeak/pkg/hrv"
	"github.com/itohio/pulsepeak/pkg/store"
)

func labelCommand(app *appContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "label",
		Short: "Transfer ECG R-peaks onto PPG and report the labelled dataset",
		Long: `Detects R-peaks on every record's ECG, transfers them to the PPG systolic
peak inside the pulse transit time window and cuts the labelled windows used
for training. With --out the PPG peaks of every subject are written as CSV.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			subjects, err := app.labelled(cmd.Context())
			if err != nil {
				return err
			}

			sc := app.cfg.Signal
			ds := dataset.Build(subjects, sc.WindowSize(), sc.Stride())
			app.log.Info("Dataset built",
				zap.Int("subjects", len(subjects)),
				zap.Int("windows", ds.Len()),
				zap.Int("window", sc.WindowSize()),
				zap.Int("stride", sc.Stride()))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SUBJECT\tMINUTES\tPEAKS\tHR\tSDNN")
			for _, s := range subjects {
				sum := hrv.Summarize(s.Peaks, s.SampleRate)
				fmt.Fprintf(tw, "%s\t%.1f\t%d\t%.1f\t%.1f\n", s.ID, s.Duration()/60, len(s.Peaks), sum.HR, sum.SDNN)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if outDir == "" {
				return nil
			}
			return writeSubjectPeaks(outDir, subjects)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for per-subject peak CSV files")
	return cmd
}

// writeSubjectPeaks stores every subject's PPG peaks as peaks_<id>.csv.
func writeSubjectPeaks(dir string, subjects []*dataset.Subject) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, s := range subjects {
		path := filepath.Join(dir, fmt.Sprintf("peaks_%s.csv", s.ID))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = store.WriteAnnotations(f, s.Peaks, s.PPG, s.SampleRate)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}
