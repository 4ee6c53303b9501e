// Package main provides the entry point for the civimport CLI tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencivic/civimport/internal/cmd"
	"github.com/opencivic/civimport/pkg/logging"
)

// Version information populated by goreleaser.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := cmd.NewRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		logging.Err(err).Msg("import failed")
		os.Exit(1)
	}
}
