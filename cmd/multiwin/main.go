package main

import (
	"log/slog"
	"os"

	"github.com/xiaomingjie/multiwin/internal/cli"
	"github.com/xiaomingjie/multiwin/internal/util"
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx := util.SetupSignalHandler()

	// Execute the CLI
	if err := cli.Execute(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
