package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Laky-64/gologging"
)

// main runs the CLI and exits non-zero when a command fails.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		gologging.ErrorF("%v", err)
		cancel()
		os.Exit(1)
	}
}
