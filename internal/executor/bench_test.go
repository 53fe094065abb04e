package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xiaomingjie/multiwin/internal/window"
)

func benchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func benchTask(id string) Task {
	return Task{
		WindowID: id,
		Run: func(ctx context.Context) Result {
			return Result{WindowID: id, Success: true, Status: window.StatusCompleted}
		},
	}
}

// BenchmarkGroup_Submit benchmarks task submission performance
func BenchmarkGroup_Submit(b *testing.B) {
	group := NewGroup(10, benchLogger())
	task := benchTask("benchmark-window")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		group.Submit(task)
	}
}

// BenchmarkGroup_Execute benchmarks execution with different worker counts
func BenchmarkGroup_Execute(b *testing.B) {
	workerCounts := []int{1, 2, 4, 8, 16}

	for _, workers := range workerCounts {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			logger := benchLogger()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				group := NewGroup(workers, logger)

				for j := 0; j < 100; j++ {
					id := fmt.Sprintf("window-%d", j)
					group.Submit(Task{
						WindowID: id,
						Run: func(ctx context.Context) Result {
							// Simulate minimal work
							time.Sleep(100 * time.Microsecond)
							return Result{WindowID: id, Success: true, Status: window.StatusCompleted}
						},
					})
				}

				b.StartTimer()
				group.Execute(context.Background())
			}
		})
	}
}

// BenchmarkGroup_ProgressReporting benchmarks progress callback overhead
func BenchmarkGroup_ProgressReporting(b *testing.B) {
	logger := benchLogger()

	b.Run("WithProgress", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			group := NewGroup(4, logger)
			for j := 0; j < 50; j++ {
				group.Submit(benchTask(fmt.Sprintf("window-%d", j)))
			}

			b.StartTimer()
			group.ExecuteWithProgress(context.Background(), func(completed, total int, r Result) {
				// Minimal callback
			})
		}
	})

	b.Run("WithoutProgress", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			group := NewGroup(4, logger)
			for j := 0; j < 50; j++ {
				group.Submit(benchTask(fmt.Sprintf("window-%d", j)))
			}

			b.StartTimer()
			group.Execute(context.Background())
		}
	})
}

// BenchmarkResult_Filtering benchmarks result aggregation operations
func BenchmarkResult_Filtering(b *testing.B) {
	// Create a large result set, half failed
	results := make([]Result, 1000)
	for i := 0; i < 1000; i++ {
		results[i] = Result{
			WindowID: fmt.Sprintf("window-%d", i),
			Success:  i%2 != 0,
			Status:   window.StatusCompleted,
			Duration: time.Duration(i) * time.Millisecond,
		}

		if i%2 == 0 {
			results[i].Status = window.StatusFailed
			results[i].Error = fmt.Errorf("error %d", i)
		}
	}

	b.Run("FilterSuccessful", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			FilterSuccessful(results)
		}
	})

	b.Run("FilterFailed", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			FilterFailed(results)
		}
	})

	b.Run("CountSuccessful", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			CountSuccessful(results)
		}
	})

	b.Run("Summarize", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			Summarize(results)
		}
	})

	b.Run("GroupByStatus", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			GroupByStatus(results)
		}
	})
}

// BenchmarkUnit_Lifecycle benchmarks unit start and join overhead
func BenchmarkUnit_Lifecycle(b *testing.B) {
	for i := 0; i < b.N; i++ {
		unit := NewUnit("bench", func(ctx context.Context) error { return nil })
		unit.Start(context.Background())
		unit.Join(time.Second)
	}
}

// BenchmarkContextPropagation benchmarks cancellation propagation
func BenchmarkContextPropagation(b *testing.B) {
	logger := benchLogger()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		group := NewGroup(8, logger)

		for j := 0; j < 100; j++ {
			group.Submit(slowTask(fmt.Sprintf("window-%d", j), 10*time.Millisecond))
		}

		ctx, cancel := context.WithCancel(context.Background())

		b.StartTimer()
		// Cancel immediately to test propagation
		cancel()
		group.Execute(ctx)
	}
}
