// Package main is the camcalib command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.viam.com/camcalib/cli"
	"go.viam.com/camcalib/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.NewLogger("camcalib").Error(err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
