package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandler returns a context cancelled on SIGINT/SIGTERM. A
// second signal forces immediate exit.
func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s, finishing current step and shutting down\n", sig)
		cancel()

		sig = <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s again, forcing exit\n", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}
