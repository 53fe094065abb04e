package executor_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/servicepool"
	"github.com/xiaomingjie/multiwin/internal/window"
)

// demoEngine is a recognition engine stub for the examples
type demoEngine struct{}

func (demoEngine) Initialize(ctx context.Context) error { return nil }

func (demoEngine) Recognize(ctx context.Context, image []byte, confidenceThreshold float64) ([]servicepool.Match, error) {
	return []servicepool.Match{{Text: "OK", Confidence: 0.95, BBox: [4]int{0, 0, 12, 8}}}, nil
}

func (demoEngine) Shutdown(ctx context.Context) error { return nil }

// Example_integrationWithServicePool demonstrates how to drive recognition
// workflows through the worker group and the shared service pool.
//
// This example shows a realistic flow:
// 1. Create a service pool and a worker group
// 2. Assign each window to a recognition service
// 3. Run workflows that include recognition steps
// 4. Release windows and shut the pool down
func Example_integrationWithServicePool() {
	// Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	// Create the shared recognition service pool
	svcPool, err := servicepool.New(
		servicepool.Config{MaxServices: 2, MaxWindowsPerService: 3},
		func(serviceID string) servicepool.RecognitionEngine { return demoEngine{} },
		logger,
	)
	if err != nil {
		fmt.Printf("service pool error: %v\n", err)
		return
	}

	// Workflow with a recognition step
	spec := executor.Spec{
		Name: "scan-screen",
		Steps: []executor.Step{
			{Name: "focus", Duration: 5 * time.Millisecond},
			{Name: "scan", Duration: 5 * time.Millisecond, Recognize: true},
		},
	}

	factory := executor.NewSimulatedFactory(svcPool, logger)
	group := executor.NewGroup(3, logger)

	ctx := context.Background()
	windows := []string{"terminal#a1", "terminal#b2", "browser#c3", "browser#d4"}

	// Assign every window to a service before running
	for _, id := range windows {
		if _, err := svcPool.AssignWindow(ctx, id, id); err != nil {
			fmt.Printf("assign %s: %v\n", id, err)
			return
		}
	}

	for _, id := range windows {
		windowID := id
		runner := factory(windowID, spec)
		group.Submit(executor.Task{
			WindowID: windowID,
			Run: func(ctx context.Context) executor.Result {
				if err := runner.Run(ctx); err != nil {
					return executor.Result{WindowID: windowID, Status: window.StatusFailed, Error: err}
				}
				return executor.Result{WindowID: windowID, Success: true, Status: window.StatusCompleted}
			},
		})
	}

	results := group.Execute(ctx)

	// Release windows and shut the pool down
	for _, id := range windows {
		svcPool.ReleaseWindow(ctx, id)
	}
	if err := svcPool.Shutdown(ctx); err != nil {
		fmt.Printf("pool shutdown: %v\n", err)
	}

	summary := executor.Summarize(results)
	fmt.Printf("Windows: %d, successful: %d, failed: %d\n",
		summary.Total, summary.Successful, summary.Failed)
	// Output:
	// Windows: 4, successful: 4, failed: 0
}

// Example_gracefulShutdownWithCleanup demonstrates proper cleanup and shutdown
func Example_gracefulShutdownWithCleanup() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	group := executor.NewGroup(3, logger)

	// Submit some long-running tasks
	for i := 1; i <= 5; i++ {
		windowID := fmt.Sprintf("window-%d", i)
		group.Submit(executor.Task{
			WindowID: windowID,
			Run: func(ctx context.Context) executor.Result {
				// Simulate work that respects context
				select {
				case <-time.After(100 * time.Millisecond):
					return executor.Result{WindowID: windowID, Success: true, Status: window.StatusCompleted}
				case <-ctx.Done():
					return executor.Result{WindowID: windowID, Status: window.StatusCancelled, Error: ctx.Err()}
				}
			},
		})
	}

	// Start execution in background
	ctx := context.Background()
	done := make(chan []executor.Result)
	go func() {
		results := group.Execute(ctx)
		done <- results
	}()

	// Simulate user interrupt after some time
	time.Sleep(50 * time.Millisecond)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	fmt.Println("Initiating graceful shutdown...")
	if err := group.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	} else {
		fmt.Println("Shutdown completed successfully")
	}

	// Wait for results
	results := <-done
	fmt.Printf("Received %d results\n", len(results))
	// Output:
	// Initiating graceful shutdown...
	// Shutdown completed successfully
	// Received 5 results
}

// Example_errorHandlingPatterns demonstrates various error handling patterns
func Example_errorHandlingPatterns() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	group := executor.NewGroup(3, logger)

	// Submit tasks with various error scenarios
	tasks := []struct {
		id  string
		err error
	}{
		{"window-1", nil},
		{"window-2", fmt.Errorf("connection refused")},
		{"window-3", nil},
		{"window-4", fmt.Errorf("authentication failed")},
		{"window-5", fmt.Errorf("timeout")},
		{"window-6", nil},
	}

	for _, tc := range tasks {
		windowID, taskError := tc.id, tc.err
		group.Submit(executor.Task{
			WindowID: windowID,
			Run: func(ctx context.Context) executor.Result {
				time.Sleep(10 * time.Millisecond)
				if taskError != nil {
					return executor.Result{WindowID: windowID, Status: window.StatusFailed, Error: taskError}
				}
				return executor.Result{WindowID: windowID, Success: true, Status: window.StatusCompleted}
			},
		})
	}

	results := group.Execute(context.Background())

	// Pattern 1: Check overall success
	if executor.AllSuccessful(results) {
		fmt.Println("All operations succeeded!")
	} else {
		successRate := executor.SuccessRate(results)
		fmt.Printf("Success rate: %.1f%%\n", successRate)
	}

	// Pattern 2: Process successful results
	successful := executor.FilterSuccessful(results)
	fmt.Printf("Successfully processed %d windows\n", len(successful))

	// Pattern 3: Handle failures in submission order
	failed := executor.FilterFailed(results)
	if len(failed) > 0 {
		fmt.Printf("Failed windows (%d):\n", len(failed))
		for _, r := range failed {
			fmt.Printf("  - %s: %v\n", r.WindowID, r.Error)
		}
	}
	// Output:
	// Success rate: 50.0%
	// Successfully processed 3 windows
	// Failed windows (3):
	//   - window-2: connection refused
	//   - window-4: authentication failed
	//   - window-5: timeout
}

// Example_performanceMonitoring demonstrates monitoring task performance
func Example_performanceMonitoring() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	group := executor.NewGroup(4, logger)

	// Submit tasks with varying durations
	windows := []struct {
		id       string
		duration time.Duration
	}{
		{"fast-window", 10 * time.Millisecond},
		{"medium-window-1", 50 * time.Millisecond},
		{"medium-window-2", 50 * time.Millisecond},
		{"slow-window", 100 * time.Millisecond},
	}

	for _, w := range windows {
		windowID, d := w.id, w.duration
		group.Submit(executor.Task{
			WindowID: windowID,
			Run: func(ctx context.Context) executor.Result {
				time.Sleep(d)
				return executor.Result{WindowID: windowID, Success: true, Status: window.StatusCompleted}
			},
		})
	}

	results := group.Execute(context.Background())

	// Performance analysis
	summary := executor.Summarize(results)

	fmt.Printf("Performance Metrics:\n")
	fmt.Printf("  Total windows: %d\n", summary.Total)

	// Identify slow windows (> 75ms)
	fmt.Println("Slow windows (>75ms):")
	for _, r := range results {
		if r.Duration > 75*time.Millisecond {
			fmt.Printf("  - %s\n", r.WindowID)
		}
	}
	// Output:
	// Performance Metrics:
	//   Total windows: 4
	// Slow windows (>75ms):
	//   - slow-window
}
