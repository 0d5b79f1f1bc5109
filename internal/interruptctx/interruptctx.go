// Package interruptctx turns SIGINT/SIGTERM into a cancelable context,
// adapted from the teacher's util/signalx package for the CLI's
// Ctrl-C-stops-generation-cleanly behavior.
package interruptctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var registered = make(chan struct{})

// Handler registers for SIGINT/SIGTERM and returns a context canceled on
// the first signal; a second signal exits the process immediately.
// Panics if called more than once per process.
func Handler() context.Context {
	close(registered)

	sigChan := make(chan os.Signal, 2)
	ctx, cancel := context.WithCancel(context.Background())
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		var canceled bool
		for range sigChan {
			if canceled {
				os.Exit(1)
			}
			cancel()
			canceled = true
		}
	}()

	return ctx
}
