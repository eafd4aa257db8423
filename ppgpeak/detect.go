package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/infer"
	"github.com/itohio/pulsepeak/pkg/report"
	"github.com/itohio/pulsepeak/pkg/store"
)

func detectCommand(app *appContext) *cobra.Command {
	var (
		modelPath string
		sourceFS  float64
		outCSV    string
		outHTML   string
	)

	cmd := &cobra.Command{
		Use:   "detect [recording.csv]",
		Short: "Detect peaks in a sensor recording with the trained model",
		Long: `Resamples a sensor recording (column ir_waveform or IR) to the model's rate,
runs overlap-averaged sliding-window inference and reports heart rate and HRV.
A recording that cannot be loaded is replaced by synthetic data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detector, fs, err := app.detector(modelPath)
			if err != nil {
				return err
			}
			if sourceFS <= 0 {
				sourceFS = app.cfg.Inference.SourceSampleRate
			}

			signal := infer.LoadOrSynthetic(args[0], sourceFS, fs, app.log)
			res, err := detector.Detect(signal)
			if err != nil {
				return err
			}
			app.log.Info("Detection finished",
				zap.Int("samples", len(signal)),
				zap.Int("peaks", len(res.Peaks)),
				zap.Float64("hr", res.Summary.HR))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Peaks:  %d in %.1f s\n", len(res.Peaks), float64(len(signal))/fs)
			fmt.Fprintf(out, "HR:     %.1f bpm\n", res.Summary.HR)
			fmt.Fprintf(out, "SDNN:   %.1f ms\n", res.Summary.SDNN)
			if res.HRV.Valid() {
				fmt.Fprintf(out, "RMSSD:  %.1f ms\n", res.HRV.RMSSD)
				fmt.Fprintf(out, "pNN50:  %.1f %%\n", res.HRV.PNN50)
			}

			if outCSV != "" {
				if err := writePeaksCSV(outCSV, res.Peaks, signal, fs); err != nil {
					return err
				}
			}
			if outHTML != "" {
				title := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				if err := report.SaveSessionHTML(outHTML, title, signal, fs, res.Peaks, res.Probabilities); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Checkpoint (default: train.checkpoint)")
	cmd.Flags().Float64Var(&sourceFS, "source-rate", 0, "Recording sample rate in Hz (default: inference.source_sample_rate)")
	cmd.Flags().StringVar(&outCSV, "csv", "", "Write the detected peaks as CSV")
	cmd.Flags().StringVar(&outHTML, "html", "", "Write an interactive chart")
	return cmd
}

func writePeaksCSV(path string, peaks []int, signal []float64, fs float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = store.WriteAnnotations(f, peaks, signal, fs)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
