// Package main is the entry point for the bookguard gateway.
package main

import (
	"context"
	"fmt"
	"os"

	"bookguard/bootstrap"
	"bookguard/cmd"
)

// run initializes and starts the gateway.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown(ctx)
	app.Shutdown()

	return nil
}

func main() {
	// Operator commands; no arguments runs the gateway
	if len(os.Args) > 1 && (cmd.IsCommand(os.Args[1]) || os.Args[1] == "--help" || os.Args[1] == "-h") {
		if err := cmd.NewRootCmd().Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
