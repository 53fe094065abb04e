package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaomingjie/multiwin/internal/barrier"
	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/window"
)

// staggerStep is the per-index spacing added to the configured base delay
// so concurrent launches do not hit shared services at the same instant.
const staggerStep = 100 * time.Millisecond

func (e *Engine) dispatch(ctx context.Context, rs *runState, targets []window.Task, spec executor.Spec) {
	var results []executor.Result
	switch rs.strategy {
	case StrategySingle:
		results = e.runSingle(ctx, rs, targets[0], spec)
	case StrategyParallel:
		results = e.runParallel(ctx, rs, targets, spec)
	case StrategySequentialSafe:
		results = e.runSequentialSafe(ctx, rs, targets, spec)
	case StrategyBatch:
		results = e.runBatch(ctx, rs, targets, spec)
	case StrategySynchronized:
		results = e.runSynchronized(ctx, rs, targets, spec)
	case StrategyStreaming:
		results = e.runStreaming(ctx, rs, targets, spec)
	}
	e.completeRun(rs, results)
}

func (e *Engine) completeRun(rs *runState, results []executor.Result) {
	summary := executor.Summarize(results)
	e.mu.Lock()
	e.last = results
	e.mu.Unlock()

	rs.cancel()
	e.running.Store(false)
	close(rs.done)

	e.logger.Info("execution complete",
		"strategy", string(rs.strategy),
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"avgDuration", summary.AvgDuration)
	e.events.emitAllCompleted(summary, results)
}

// relay adapts group progress callbacks into engine completion handling
func (e *Engine) relay(rs *runState) executor.ProgressFunc {
	return func(_, _ int, r executor.Result) {
		e.noteCompletion(rs, r)
	}
}

// noteCompletion records one window result exactly once: lifetime counters,
// event callbacks, the streaming channel, and the completion policy check.
// Returns false if the window was already recorded for this run.
func (e *Engine) noteCompletion(rs *runState, r executor.Result) bool {
	e.mu.Lock()
	if rs.seen[r.WindowID] {
		e.mu.Unlock()
		return false
	}
	rs.seen[r.WindowID] = true
	rs.completed++
	completed, total := rs.completed, rs.total
	e.counters.note(r)
	e.mu.Unlock()

	e.events.emitWindowCompleted(r)
	e.events.emitProgress(completed, total, r)

	if rs.stream != nil {
		select {
		case rs.stream <- r:
		case <-e.baseCtx.Done():
		}
	}

	if e.opts.CompletionPolicy == StopOnFirstCompletion && completed < total {
		rs.stopOnce.Do(func() {
			e.logger.Info("first window landed, stopping the rest",
				"windowId", r.WindowID, "completed", completed, "total", total)
			rs.cancel()
			go e.autoStop()
		})
	}
	return true
}

// sweep reconciles results a group landed on the engine's behalf, such as
// tasks drained by a cancelled run: they are recorded once and any window
// the pipeline never reached is finished as cancelled.
func (e *Engine) sweep(rs *runState, results []executor.Result) {
	for _, r := range results {
		e.noteCompletion(rs, r)
		t, err := e.registry.Get(r.WindowID)
		if err == nil && !t.Status.Terminal() {
			e.finishWindow(r.WindowID, window.StatusCancelled, r.Error)
		}
	}
}

// autoStop drives the stop protocol over whatever units are still bound,
// on behalf of the stop-on-first completion policy
func (e *Engine) autoStop() {
	units := e.registry.Units()
	if len(units) == 0 {
		return
	}
	report := e.stopper.StopAll(units, e.services, e.opts.StopTimeout)
	e.events.emitStopReport(report)
}

// stagger sleeps the launch offset for the i-th concurrent window
func (e *Engine) stagger(ctx context.Context, i int) error {
	d := e.opts.StaggerDelay + time.Duration(i)*staggerStep
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// submitAll queues every target on the group. Staggered submissions space
// their launches by index; waiterFor, when set, frames each run with sync
// point waits.
func (e *Engine) submitAll(g *executor.Group, targets []window.Task, spec executor.Spec, waiterFor func(window.Task) waiterFunc, staggered bool) {
	for i, t := range targets {
		task := executor.Task{
			WindowID: t.ID,
			Title:    t.Title,
			Run: func(c context.Context) executor.Result {
				if staggered {
					if err := e.stagger(c, i); err != nil {
						return e.skippedResult(t, fmt.Errorf("window not dispatched: %w", err))
					}
				}
				var waitAt waiterFunc
				if waiterFor != nil {
					waitAt = waiterFor(t)
				}
				return e.runWindow(c, t, spec, waitAt)
			},
		}
		if err := g.Submit(task); err != nil {
			e.logger.Warn("window not queued", "windowId", t.ID, "error", err)
		}
	}
}

func (e *Engine) runSingle(ctx context.Context, rs *runState, t window.Task, spec executor.Spec) []executor.Result {
	r := e.runWindow(ctx, t, spec, nil)
	e.noteCompletion(rs, r)
	return []executor.Result{r}
}

func (e *Engine) runParallel(ctx context.Context, rs *runState, targets []window.Task, spec executor.Spec) []executor.Result {
	g := executor.NewGroup(len(targets), e.logger)
	e.submitAll(g, targets, spec, nil, true)
	results := g.ExecuteWithProgress(ctx, e.relay(rs))
	e.sweep(rs, results)
	return results
}

func (e *Engine) runSequentialSafe(ctx context.Context, rs *runState, targets []window.Task, spec executor.Spec) []executor.Result {
	framing := []barrier.Point{barrier.PointStart, barrier.PointFinish}
	if err := e.barriers.Setup(1, framing...); err != nil {
		e.logger.Warn("barrier setup failed, windows run unframed", "error", err)
	}
	defer e.barriers.Cleanup()

	results := make([]executor.Result, 0, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			r := e.skippedResult(t, fmt.Errorf("run cancelled: %w", ctx.Err()))
			e.noteCompletion(rs, r)
			results = append(results, r)
			continue
		}
		r := e.runWindow(ctx, t, spec, e.pointWaiter(ctx, t.ID, framing...))
		e.noteCompletion(rs, r)
		results = append(results, r)
	}
	return results
}

func (e *Engine) runBatch(ctx context.Context, rs *runState, targets []window.Task, spec executor.Spec) []executor.Result {
	size := e.opts.BatchSize
	results := make([]executor.Result, 0, len(targets))
	for offset := 0; offset < len(targets); offset += size {
		if ctx.Err() != nil {
			for _, t := range targets[offset:] {
				r := e.skippedResult(t, fmt.Errorf("run cancelled: %w", ctx.Err()))
				e.noteCompletion(rs, r)
				results = append(results, r)
			}
			break
		}

		end := min(offset+size, len(targets))
		chunk := targets[offset:end]
		g := executor.NewGroup(len(chunk), e.logger)
		e.submitAll(g, chunk, spec, nil, true)
		chunkResults := g.ExecuteWithProgress(ctx, e.relay(rs))
		e.sweep(rs, chunkResults)
		results = append(results, chunkResults...)

		e.logger.Debug("batch complete",
			"from", offset,
			"to", end-1,
			"successful", executor.CountSuccessful(chunkResults))
	}
	return results
}

func (e *Engine) runSynchronized(ctx context.Context, rs *runState, targets []window.Task, spec executor.Spec) []executor.Result {
	points := barrier.AllPoints()
	if err := e.barriers.Setup(len(targets), points...); err != nil {
		e.logger.Warn("barrier setup failed", "error", err)
	}
	defer e.barriers.Cleanup()

	g := executor.NewGroup(len(targets), e.logger)
	e.submitAll(g, targets, spec, func(t window.Task) waiterFunc {
		return e.pointWaiter(ctx, t.ID, points...)
	}, false)
	results := g.ExecuteWithProgress(ctx, e.relay(rs))
	e.sweep(rs, results)
	return results
}

func (e *Engine) runStreaming(ctx context.Context, rs *runState, targets []window.Task, spec executor.Spec) []executor.Result {
	queue := make(chan window.Task, e.opts.QueueSize)
	skipped := make(chan executor.Result, len(targets))

	go func() {
		defer close(queue)
		defer close(skipped)
		for i, t := range targets {
			select {
			case queue <- t:
				rs.queueDepth.Add(1)
			case <-ctx.Done():
				for _, rest := range targets[i:] {
					r := e.skippedResult(rest, fmt.Errorf("run cancelled: %w", ctx.Err()))
					e.noteCompletion(rs, r)
					skipped <- r
				}
				return
			}
		}
	}()

	size := e.opts.BatchSize
	results := make([]executor.Result, 0, len(targets))
	var (
		batch    []window.Task
		timer    *time.Timer
		deadline <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		deadline = nil
		if len(batch) == 0 {
			return
		}
		g := executor.NewGroup(len(batch), e.logger)
		e.submitAll(g, batch, spec, nil, true)
		out := g.ExecuteWithProgress(ctx, e.relay(rs))
		e.sweep(rs, out)
		results = append(results, out...)
		e.logger.Debug("stream batch complete", "size", len(batch))
		batch = nil
	}

gather:
	for {
		select {
		case t, ok := <-queue:
			if !ok {
				break gather
			}
			rs.queueDepth.Add(-1)
			if len(batch) == 0 {
				timer = time.NewTimer(e.opts.BatchTimeout)
				deadline = timer.C
			}
			batch = append(batch, t)
			if len(batch) >= size {
				flush()
			}
		case <-deadline:
			flush()
		}
	}
	flush()

	for r := range skipped {
		results = append(results, r)
	}
	close(rs.stream)
	return results
}
