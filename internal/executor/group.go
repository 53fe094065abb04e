package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaomingjie/multiwin/internal/window"
)

// Task represents one window's workflow run to be executed by the group
type Task struct {
	// WindowID identifies which window this task drives
	WindowID string

	// Title is the window title, carried through to the result
	Title string

	// Run executes the workflow pass and reports its outcome
	Run func(ctx context.Context) Result
}

// ProgressFunc is called after each task completes
// completed and total are running counts, r is the result that just landed
type ProgressFunc func(completed, total int, r Result)

// Group manages a pool of workers that run window tasks concurrently
// It provides bounded concurrency, graceful shutdown, and progress reporting
type Group struct {
	// workers is the number of concurrent workers
	workers int

	// tasks is the queue of tasks to execute
	tasks []Task

	// mu protects the tasks slice
	mu sync.Mutex

	// logger for structured logging
	logger *slog.Logger

	// shutdown indicates if the group is shutting down
	shutdown atomic.Bool

	// running indicates if the group is currently executing
	running atomic.Bool
}

// NewGroup creates a new worker group with the specified number of workers
// workers must be > 0, otherwise it defaults to 1
func NewGroup(workers int, logger *slog.Logger) *Group {
	if workers <= 0 {
		workers = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Group{
		workers: workers,
		tasks:   make([]Task, 0),
		logger:  logger,
	}
}

// Submit adds a task to the group's queue
// Returns an error if the group is shutting down or already running
func (g *Group) Submit(task Task) error {
	if g.shutdown.Load() {
		return fmt.Errorf("group is shutting down, cannot submit new tasks")
	}

	if g.running.Load() {
		return fmt.Errorf("group is running, cannot submit new tasks")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if task.WindowID == "" {
		return fmt.Errorf("task must have a window id")
	}

	if task.Run == nil {
		return fmt.Errorf("task must have a run function")
	}

	g.tasks = append(g.tasks, task)
	g.logger.Debug("task submitted", "window", task.WindowID, "total_tasks", len(g.tasks))

	return nil
}

// Reset clears the task queue so the group can be reused for another round
// Returns an error if the group is currently executing
func (g *Group) Reset() error {
	if g.running.Load() {
		return fmt.Errorf("group is running, cannot reset")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.tasks = g.tasks[:0]
	return nil
}

// Execute runs all submitted tasks using the worker pool pattern
// It creates a bounded number of worker goroutines that process tasks concurrently
// Returns a slice of results in submission order
func (g *Group) Execute(ctx context.Context) []Result {
	return g.ExecuteWithProgress(ctx, nil)
}

// ExecuteWithProgress runs all tasks with progress reporting
// The progressFn callback is called after each task completes with the
// running counts and the result that just landed
func (g *Group) ExecuteWithProgress(ctx context.Context, progressFn ProgressFunc) []Result {
	if !g.running.CompareAndSwap(false, true) {
		g.logger.Error("group is already running")
		return []Result{}
	}
	defer g.running.Store(false)

	g.mu.Lock()
	taskCount := len(g.tasks)
	if taskCount == 0 {
		g.mu.Unlock()
		g.logger.Debug("no tasks to execute")
		return []Result{}
	}

	// Create a copy of tasks to avoid holding the lock during execution
	tasksCopy := make([]Task, len(g.tasks))
	copy(tasksCopy, g.tasks)
	g.mu.Unlock()

	g.logger.Info("starting task execution",
		"workers", g.workers,
		"tasks", taskCount)

	startTime := time.Now()

	// Create channels for task distribution and result collection
	// Buffer size = task count to avoid blocking
	taskChan := make(chan taskWithIndex, taskCount)
	resultChan := make(chan resultWithIndex, taskCount)

	// Completed counter for progress reporting
	var completed atomic.Int32

	// Start worker goroutines
	var wg sync.WaitGroup
	workerCount := g.workers
	if workerCount > taskCount {
		// Don't create more workers than tasks
		workerCount = taskCount
	}

	g.logger.Debug("starting workers", "count", workerCount)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go g.worker(ctx, i, taskChan, resultChan, &wg, &completed, taskCount, progressFn)
	}

	// Send all tasks to the task channel
	for i, task := range tasksCopy {
		select {
		case taskChan <- taskWithIndex{task: task, index: i}:
		case <-ctx.Done():
			g.logger.Warn("context cancelled while queuing tasks")
			close(taskChan)
			goto waitForWorkers
		}
	}
	close(taskChan)

waitForWorkers:
	// Wait for all workers to complete
	wg.Wait()
	close(resultChan)

	// Collect results
	results := make([]Result, taskCount)

	for res := range resultChan {
		if res.index >= 0 && res.index < taskCount {
			results[res.index] = res.result
		}
	}

	// For any tasks that didn't run (e.g., context cancelled before execution)
	// create cancelled results
	for i := range results {
		if results[i].WindowID == "" {
			results[i] = Result{
				WindowID: tasksCopy[i].WindowID,
				Title:    tasksCopy[i].Title,
				Status:   window.StatusCancelled,
				Error:    fmt.Errorf("task not executed: %w", ctx.Err()),
				Duration: 0,
			}
		}
	}

	totalDuration := time.Since(startTime)
	successCount := CountSuccessful(results)
	failureCount := taskCount - successCount

	g.logger.Info("task execution completed",
		"total", taskCount,
		"successful", successCount,
		"failed", failureCount,
		"duration", totalDuration)

	return results
}

// worker is the worker goroutine that processes tasks from the task channel
func (g *Group) worker(
	ctx context.Context,
	workerID int,
	taskChan <-chan taskWithIndex,
	resultChan chan<- resultWithIndex,
	wg *sync.WaitGroup,
	completed *atomic.Int32,
	total int,
	progressFn ProgressFunc,
) {
	defer wg.Done()

	g.logger.Debug("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("worker stopping due to context cancellation", "worker_id", workerID)
			return

		case taskItem, ok := <-taskChan:
			if !ok {
				// Channel closed, no more tasks
				g.logger.Debug("worker finished (no more tasks)", "worker_id", workerID)
				return
			}

			// Execute the task
			result := g.executeTask(ctx, taskItem.task)

			// Send result
			select {
			case resultChan <- resultWithIndex{result: result, index: taskItem.index}:
			case <-ctx.Done():
				g.logger.Warn("context cancelled while sending result",
					"worker_id", workerID,
					"window", taskItem.task.WindowID)
				return
			}

			// Update progress
			completedCount := completed.Add(1)
			g.logger.Debug("task completed",
				"worker_id", workerID,
				"window", taskItem.task.WindowID,
				"success", result.Success,
				"duration", result.Duration,
				"progress", fmt.Sprintf("%d/%d", completedCount, total))

			// Call progress callback if provided
			if progressFn != nil {
				progressFn(int(completedCount), total, result)
			}
		}
	}
}

// executeTask executes a single task and returns the result
func (g *Group) executeTask(ctx context.Context, task Task) Result {
	startTime := time.Now()

	g.logger.Debug("executing task", "window", task.WindowID)

	// Check context before execution
	select {
	case <-ctx.Done():
		return Result{
			WindowID: task.WindowID,
			Title:    task.Title,
			Status:   window.StatusCancelled,
			Error:    fmt.Errorf("task cancelled before execution: %w", ctx.Err()),
			Duration: time.Since(startTime),
		}
	default:
	}

	// Execute the task
	result := task.Run(ctx)

	// Fill in identity and timing the run function left blank
	// A run function that measured its own duration keeps its value
	if result.WindowID == "" {
		result.WindowID = task.WindowID
	}
	if result.Title == "" {
		result.Title = task.Title
	}
	if result.Duration == 0 {
		result.Duration = time.Since(startTime)
	}

	if result.Error != nil {
		g.logger.Warn("task failed",
			"window", task.WindowID,
			"error", result.Error,
			"duration", result.Duration)
	} else {
		g.logger.Debug("task succeeded",
			"window", task.WindowID,
			"duration", result.Duration)
	}

	return result
}

// Shutdown gracefully shuts down the group
// It stops accepting new tasks and waits for in-progress tasks to complete
// The context timeout controls how long to wait for tasks to finish
func (g *Group) Shutdown(ctx context.Context) error {
	if !g.shutdown.CompareAndSwap(false, true) {
		return fmt.Errorf("group already shut down")
	}

	g.logger.Info("shutting down worker group")

	// If the group is currently running, wait for it to finish
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		g.logger.Debug("waiting for group to finish", "deadline", deadline)
	}

	// Poll until the group is no longer running or context times out
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for g.running.Load() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout: %w", ctx.Err())
		case <-ticker.C:
			// Continue polling
		}
	}

	g.logger.Info("worker group shut down successfully")
	return nil
}

// IsShutdown returns true if the group has been shut down
func (g *Group) IsShutdown() bool {
	return g.shutdown.Load()
}

// IsRunning returns true if the group is currently executing tasks
func (g *Group) IsRunning() bool {
	return g.running.Load()
}

// TaskCount returns the number of tasks currently queued
func (g *Group) TaskCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// WorkerCount returns the number of workers in the group
func (g *Group) WorkerCount() int {
	return g.workers
}

// taskWithIndex pairs a task with its original index for result ordering
type taskWithIndex struct {
	task  Task
	index int
}

// resultWithIndex pairs a result with its original task index
type resultWithIndex struct {
	result Result
	index  int
}
