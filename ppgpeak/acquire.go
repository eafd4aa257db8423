package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/device"
	"github.com/itohio/pulsepeak/pkg/monitor"
	"github.com/itohio/pulsepeak/pkg/sample"
	"github.com/itohio/pulsepeak/pkg/store"
)

type acquireFlags struct {
	port      string
	mock      bool
	duration  time.Duration
	save      bool
	user      string
	listPorts bool
}

func acquireCommand(app *appContext) *cobra.Command {
	var flags acquireFlags

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Record from the PPG sensor and follow the heart rate",
		Long: `Reads samples from the ESP32 sensor over the serial port (or a simulated
sensor with --mock), logs heart rate and HRV as beats are detected and
optionally stores the recording as a new session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.listPorts {
				return printPorts(cmd)
			}
			if flags.port != "" {
				app.cfg.Serial.Port = flags.port
			}

			var dev device.Device
			deviceID := "esp32"
			if flags.mock {
				dev, deviceID = device.NewMock(&app.cfg.Mock), "mock"
			} else {
				dev = device.New(app.cfg.Serial.Port, app.cfg.Serial.BaudRate, device.DefaultBufferSize, app.log)
			}

			captured, err := acquire(cmd.Context(), app, dev, flags.duration)
			if err != nil {
				return err
			}
			if !flags.save {
				return nil
			}

			fs := sample.Rate(captured)
			if len(captured) < 2 || fs <= 0 {
				return fmt.Errorf("nothing to save: %d samples", len(captured))
			}
			sessions, err := app.openStore()
			if err != nil {
				return err
			}
			defer sessions.Close()

			session := &store.Session{
				CreatedAt:      captured[0].Timestamp,
				DeviceID:       deviceID,
				UserName:       flags.user,
				SamplingRateHz: fs,
				IRWaveform:     sample.IRValues(captured),
			}
			// The command context may already be cancelled by the interrupt that ended the recording.
			if err := sessions.Create(context.WithoutCancel(cmd.Context()), session); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored session %s: %d samples @ %.1f Hz\n", session.ID, len(session.IRWaveform), fs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.port, "port", "p", "", "Serial port override")
	cmd.Flags().BoolVar(&flags.mock, "mock", false, "Use a simulated sensor")
	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", time.Minute, "Recording length (0 runs until interrupted)")
	cmd.Flags().BoolVar(&flags.save, "save", false, "Store the recording in the session store")
	cmd.Flags().StringVarP(&flags.user, "user", "u", "", "User name stored with the session")
	cmd.Flags().BoolVar(&flags.listPorts, "list-ports", false, "List serial ports and exit")
	return cmd
}

// acquire runs the measurement chain until ctx is done or d elapses and returns
// every converted sample.
func acquire(ctx context.Context, app *appContext, dev device.Device, d time.Duration) ([]sample.Sample, error) {
	pulseMonitor, err := monitor.New(app.cfg.Monitor, 0)
	if err != nil {
		return nil, err
	}
	pulseMonitor.OnUpdate(func(u monitor.Update) {
		if !u.HRV.Valid() {
			app.log.Debug("Waiting for beats", zap.Int("beats", len(u.Beats)), zap.Float64("fs", u.SampleRate))
			return
		}
		app.log.Info("Heart rate",
			zap.Float64("hr", u.Summary.HR),
			zap.Float64("sdnn", u.HRV.SDNN),
			zap.Float64("rmssd", u.HRV.RMSSD),
			zap.Float64("pnn50", u.HRV.PNN50),
			zap.Int("beats", len(u.Beats)))
	})

	if err := dev.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	mc := app.cfg.Monitor
	converted := sample.Chain(mc.Averaging, mc.Smoothing, 500, app.log)(dev.Samples())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		captured []sample.Sample
	)
	forward := make(chan sample.Sample, 500)
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(forward)
		for s := range converted {
			mu.Lock()
			captured = append(captured, s)
			mu.Unlock()
			forward <- s
		}
	}()
	go func() {
		defer wg.Done()
		pulseMonitor.ProcessSamples(forward)
	}()
	go func() {
		defer wg.Done()
		for line := range dev.Lines() {
			app.log.Info("Sensor", zap.String("line", line))
		}
	}()

	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	<-ctx.Done()

	if err := dev.Close(); err != nil {
		app.log.Warn("Failed to close sensor", zap.Error(err))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	app.log.Info("Acquisition finished", zap.Int("samples", len(captured)), zap.Float64("fs", sample.Rate(captured)))
	return captured, nil
}

func printPorts(cmd *cobra.Command) error {
	ports, err := device.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.Description != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Name, p.Description)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), p.Name)
		}
	}
	return nil
}
