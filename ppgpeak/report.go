package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/report"
)

func reportCommand(app *appContext) *cobra.Command {
	var (
		out       string
		modelPath string
	)

	cmd := &cobra.Command{
		Use:   "report [session-id]",
		Short: "Render a stored session with its detected peaks as an HTML chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := app.openStore()
			if err != nil {
				return err
			}
			defer sessions.Close()

			session, err := sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			editor := annotate.NewEditor(session.IRWaveform, session.SamplingRateHz, annotate.OptionsFrom(app.cfg.Annotation))
			if modelPath != "" {
				detector, fs, err := app.detector(modelPath)
				if err != nil {
					return err
				}
				if _, err := editor.DetectModel(detector, fs); err != nil {
					return err
				}
			}

			if out == "" {
				out = fmt.Sprintf("session_%s.html", session.ShortID())
			}
			title := fmt.Sprintf("%s - %s (%s)", session.DeviceID, session.UserName, session.ShortID())
			if err := report.SaveSessionHTML(out, title, editor.Signal(), editor.SampleRate(), editor.Peaks(), nil); err != nil {
				return err
			}

			sum := editor.Summary()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d peaks, HR %.1f bpm, quality %d -> %s\n",
				title, sum.Peaks, sum.HR, sum.Quality, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: session_<id>.html)")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Detect with the trained model instead of the automatic detector")
	return cmd
}
