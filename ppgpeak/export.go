package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/performer"
)

func exportCommand(app *appContext) *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "export [out.msgpack]",
		Short: "Export the model in half precision for the sensor firmware",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				modelPath = app.cfg.Train.Checkpoint
			}
			model, ckpt, err := performer.LoadFile(modelPath)
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			rep, err := model.ExportHalf(f, ckpt.SampleRate)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			app.log.Info("Model exported",
				zap.String("path", args[0]),
				zap.Int("values", rep.Values),
				zap.Float32("max_error", rep.MaxError),
				zap.String("max_error_tensor", rep.MaxName),
				zap.Int("overflow", rep.Overflow))
			fmt.Fprintf(cmd.OutOrStdout(), "%d values, max error %.3g in %s, %d overflowed\n",
				rep.Values, rep.MaxError, rep.MaxName, rep.Overflow)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Checkpoint (default: train.checkpoint)")
	return cmd
}
