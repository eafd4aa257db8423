package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/server"
	"github.com/itohio/pulsepeak/pkg/store"
)

func serveCommand(app *appContext) *cobra.Command {
	var (
		listen    string
		modelPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the peak annotation API",
		Long: `Lists the recorded sessions from the session store and serves the manual
peak correction API. Corrected peaks are written as CSV files and the session
status is kept in a JSON file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := app.cfg.Annotation
			if listen != "" {
				ac.Listen = listen
			}

			sessions, err := app.openStore()
			if err != nil {
				return err
			}
			defer sessions.Close()

			book, err := store.OpenStatusBook(ac.StatusFile)
			if err != nil {
				return err
			}
			ws := annotate.NewWorkspace(sessions, book, store.CSVSink{Dir: ac.Dir}, annotate.OptionsFrom(ac), app.log)
			if err := ws.Reload(cmd.Context()); err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.NewAnnotationMetrics(registry)
			if err != nil {
				return err
			}

			opts := server.Options{
				Listen:   ac.Listen,
				CacheTTL: ac.CacheTTL,
				Metrics:  m,
				Gatherer: registry,
			}
			if modelPath != "" {
				detector, fs, err := app.detector(modelPath)
				if err != nil {
					return err
				}
				opts.Detector, opts.ModelSampleRate = detector, fs
			}

			app.log.Info("Serving annotation API", zap.String("listen", ac.Listen), zap.Int("sessions", ws.Len()))
			return server.New(ws, opts, app.log).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default: annotation.listen)")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Checkpoint enabling model-based detection")
	return cmd
}

// openStore connects to the configured session store.
func (a *appContext) openStore() (*store.Store, error) {
	dsn, err := a.cfg.Store.ResolveDSN()
	if err != nil {
		return nil, err
	}
	return store.Open(dsn, a.log)
}
