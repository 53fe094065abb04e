package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaomingjie/multiwin/internal/config"
	"github.com/xiaomingjie/multiwin/internal/engine"
	"github.com/xiaomingjie/multiwin/internal/output"
	"github.com/xiaomingjie/multiwin/internal/window"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configured fleet, pools and shared services",
		Long: `Status assembles the engine from configuration without starting a run
and renders a one-shot view of the window roster, resource pool capacities
and the shared service pool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}

	cmd.Flags().Bool("wide", false, "include per-service instance details")

	return cmd
}

func runStatus(cmd *cobra.Command) error {
	manager := config.NewManager(cfgFile)
	cfg, err := manager.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	cfg.Defaults.OutputFormat = flagString(cmd, "output", cfg.Defaults.OutputFormat)
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		cfg.Defaults.NoColor = true
	}

	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}
	eng, err := engine.New(opts)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(shutdownCtx)
	}()

	for _, w := range cfg.Windows {
		eng.RegisterWindow(w.Title, window.Handle(w.Handle), w.Enabled)
	}

	wide, _ := cmd.Flags().GetBool("wide")
	formatter := output.NewFormatter(
		output.Format(cfg.Defaults.OutputFormat),
		output.WithNoColor(cfg.Defaults.NoColor),
		output.WithWide(wide),
	)
	return formatter.FormatStatus(os.Stdout, output.CollectStatus(eng))
}
