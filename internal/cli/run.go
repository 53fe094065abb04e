package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaomingjie/multiwin/internal/breaker"
	"github.com/xiaomingjie/multiwin/internal/config"
	"github.com/xiaomingjie/multiwin/internal/engine"
	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/metrics"
	"github.com/xiaomingjie/multiwin/internal/output"
	"github.com/xiaomingjie/multiwin/internal/servicepool"
	"github.com/xiaomingjie/multiwin/internal/util"
	"github.com/xiaomingjie/multiwin/internal/window"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured workflow across all enabled windows",
		Long: `Run loads the window roster from configuration, registers every window
with the engine, dispatches the workflow through the selected execution
strategy and renders the per-window results.

A first interrupt (Ctrl+C) triggers the graceful stop protocol; a second
one forces immediate exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd)
		},
	}

	cmd.Flags().Bool("stop-on-first", false, "stop all remaining windows once the first completes")
	cmd.Flags().Bool("force-mode", false, "honor sequential/synchronized modes even with multiple windows registered")
	cmd.Flags().Int("batch-size", 0, "windows per batch for batch/streaming strategies")
	cmd.Flags().Duration("stagger", 0, "base launch delay between concurrent windows")
	cmd.Flags().Duration("stop-timeout", 0, "budget for the graceful stop protocol")
	cmd.Flags().Bool("metrics", false, "register Prometheus collectors for this run")
	cmd.Flags().MarkHidden("metrics")

	return cmd
}

func runRun(cmd *cobra.Command) error {
	manager := config.NewManager(cfgFile)
	cfg, err := manager.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	applyRunFlags(cmd, cfg)

	if len(manager.EnabledWindows()) == 0 {
		return fmt.Errorf("%s", util.FriendlyError(util.ErrNoEnabledWindows))
	}

	mode, err := engine.ParseMode(cfg.Engine.Mode)
	if err != nil {
		return err
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.StopTimeout)
		defer cancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			slog.Warn("engine shutdown incomplete", "error", err)
		}
	}()

	for _, w := range cfg.Windows {
		eng.RegisterWindow(w.Title, window.Handle(w.Handle), w.Enabled)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		eng.Events().OnProgress(func(completed, total int, r executor.Result) {
			slog.Debug("window finished", "window", r.WindowID,
				"status", string(r.Status), "completed", completed, "total", total)
		})
	}

	if enabled, _ := cmd.Flags().GetBool("metrics"); enabled {
		if err := attachMetrics(cmd.Context(), eng); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	spec := workflowSpec(cfg.Workflow)
	if !eng.Start(spec, mode) {
		return fmt.Errorf("%s", util.FriendlyError(util.ErrAlreadyRunning))
	}

	// Streaming runs need their result channel drained for backpressure;
	// the final ordered results still come from Wait
	if stream := eng.Stream(); stream != nil {
		go func() {
			for range stream {
			}
		}()
	}

	timeout := cfg.Defaults.Timeout
	waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// First signal requests the stop protocol; the run then completes with
	// cancelled windows instead of hanging
	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		select {
		case <-cmd.Context().Done():
			slog.Info("interrupt received, stopping all windows")
			eng.StopAll(cfg.Engine.StopTimeout)
		case <-waitCtx.Done():
		}
	}()

	results, err := eng.Wait(waitCtx)
	if err != nil {
		slog.Warn("run exceeded timeout, stopping all windows", "timeout", timeout)
		eng.StopAll(cfg.Engine.StopTimeout)
		results = eng.Results()
	}
	cancel()
	<-stopDone

	if err := renderResults(cmd, cfg, results); err != nil {
		return err
	}

	if failed := executor.CountFailed(results); failed > 0 {
		return fmt.Errorf("%d of %d windows failed", failed, len(results))
	}
	return nil
}

// applyRunFlags overlays explicit command-line flags onto the loaded config
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	cfg.Engine.Mode = flagString(cmd, "mode", cfg.Engine.Mode)
	cfg.Defaults.OutputFormat = flagString(cmd, "output", cfg.Defaults.OutputFormat)
	cfg.Defaults.Timeout = flagDuration(cmd, "timeout", cfg.Defaults.Timeout)
	cfg.Engine.StopTimeout = flagDuration(cmd, "stop-timeout", cfg.Engine.StopTimeout)
	cfg.Engine.StaggerDelay = flagDuration(cmd, "stagger", cfg.Engine.StaggerDelay)

	if cmd.Flags().Changed("batch-size") {
		size, _ := cmd.Flags().GetInt("batch-size")
		cfg.Engine.BatchSize = size
	}
	if cmd.Flags().Changed("stop-on-first") {
		stopOnFirst, _ := cmd.Flags().GetBool("stop-on-first")
		if stopOnFirst {
			cfg.Engine.CompletionPolicy = string(engine.StopOnFirstCompletion)
		} else {
			cfg.Engine.CompletionPolicy = string(engine.WaitForAll)
		}
	}
	if cmd.Flags().Changed("force-mode") {
		force, _ := cmd.Flags().GetBool("force-mode")
		cfg.Engine.ForceMode = force
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		cfg.Defaults.NoColor = true
	}
}

// engineOptions maps the file configuration onto engine options
func engineOptions(cfg *config.Config) (engine.Options, error) {
	mode, err := engine.ParseMode(cfg.Engine.Mode)
	if err != nil {
		return engine.Options{}, err
	}

	return engine.Options{
		Logger:           slog.Default(),
		Mode:             mode,
		ForceMode:        cfg.Engine.ForceMode,
		CompletionPolicy: engine.CompletionPolicy(cfg.Engine.CompletionPolicy),
		StaggerDelay:     cfg.Engine.StaggerDelay,
		BatchSize:        cfg.Engine.BatchSize,
		BatchTimeout:     cfg.Engine.BatchTimeout,
		QueueSize:        cfg.Engine.QueueSize,
		BarrierTimeout:   cfg.Engine.BarrierTimeout,
		StopTimeout:      cfg.Engine.StopTimeout,
		WindowSlots:      cfg.Pools.Windows,
		ServiceSlots:     cfg.Pools.Services,
		NetworkSlots:     cfg.Pools.Network,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		},
		Retry: breaker.RetryConfig{
			MaxRetries:    cfg.Retry.MaxRetries,
			BackoffFactor: cfg.Retry.BackoffFactor,
			MaxBackoff:    cfg.Retry.MaxBackoff,
		},
		ServicePool: servicepool.Config{
			MaxServices:          cfg.Services.MaxServices,
			MaxWindowsPerService: cfg.Services.MaxWindowsPerService,
			ServiceTimeout:       cfg.Services.IdleTimeout,
			SweepInterval:        cfg.Services.SweepInterval,
		},
	}, nil
}

// workflowSpec converts the configured workflow into an executor spec
func workflowSpec(wf config.WorkflowConfig) executor.Spec {
	steps := make([]executor.Step, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		steps = append(steps, executor.Step{
			Name:        s.Name,
			Duration:    s.Duration,
			FailureRate: s.FailureRate,
			Recognize:   s.Recognize,
		})
	}
	return executor.Spec{Name: wf.Name, Steps: steps}
}

// attachMetrics wires the Prometheus exporter and snapshot poller to a run
func attachMetrics(ctx context.Context, eng *engine.Engine) error {
	exporter, err := metrics.NewExporter("", nil, metrics.ExporterOptions{})
	if err != nil {
		return err
	}
	exporter.Attach(eng.Events())

	poller, err := metrics.NewSnapshotPoller("", nil, eng, time.Second)
	if err != nil {
		return err
	}
	poller.Start(ctx)
	return nil
}

// renderResults writes the result table (or json/yaml) to stdout
func renderResults(cmd *cobra.Command, cfg *config.Config, results []executor.Result) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	formatter := output.NewFormatter(
		output.Format(cfg.Defaults.OutputFormat),
		output.WithNoColor(cfg.Defaults.NoColor),
		output.WithWide(verbose),
	)
	return formatter.FormatResults(os.Stdout, results)
}
