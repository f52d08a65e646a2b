// Package main provides the entry point for the taxonsync CLI tool.
package main

import (
	"context"
	"os"

	"github.com/agentstation/taxonsync/cmd/taxonsync/app"
	"github.com/agentstation/taxonsync/pkg/constants"
)

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	application := app.New(version, commit, date, builtBy)

	ctx, cancel := app.ContextWithSignals(context.Background())
	defer cancel()

	err := application.Execute(ctx, os.Args[1:])

	// The signal context may already be canceled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := application.Shutdown(shutdownCtx); shutdownErr != nil {
		application.Logger().Error().Err(shutdownErr).Msg("Shutdown error")
	}

	app.ExitOnError(err)
}
