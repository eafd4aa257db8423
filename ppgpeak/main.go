// Command ppgpeak labels PPG recordings, trains and evaluates the peak detection
// model, runs it on sensor recordings and serves the annotation API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCommand(&appContext{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
