package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaomingjie/multiwin/internal/barrier"
	"github.com/xiaomingjie/multiwin/internal/breaker"
	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/pool"
	"github.com/xiaomingjie/multiwin/internal/servicepool"
	"github.com/xiaomingjie/multiwin/internal/util"
	"github.com/xiaomingjie/multiwin/internal/window"
)

// serviceReleaseGrace bounds the shared-service teardown triggered by a
// window release.
const serviceReleaseGrace = 5 * time.Second

// waiterFunc blocks at one named sync point. A nil waiter means the run is
// not barrier-framed and every point passes through.
type waiterFunc func(point barrier.Point) error

// pointWaiter builds a waiter that blocks at the given sync points and
// passes the rest through
func (e *Engine) pointWaiter(ctx context.Context, label string, points ...barrier.Point) waiterFunc {
	gated := make(map[barrier.Point]bool, len(points))
	for _, pt := range points {
		gated[pt] = true
	}
	return func(pt barrier.Point) error {
		if !gated[pt] {
			return nil
		}
		return e.barriers.WaitAt(ctx, pt, label, e.opts.BarrierTimeout)
	}
}

// runWindow executes one enabled window end to end: slot admission,
// shared-service assignment, the retry-wrapped workflow unit, and registry
// bookkeeping. The returned result always carries the window identity and
// a terminal status.
func (e *Engine) runWindow(ctx context.Context, t window.Task, spec executor.Spec, waitAt waiterFunc) executor.Result {
	if waitAt == nil {
		waitAt = func(barrier.Point) error { return nil }
	}
	start := time.Now()
	fail := func(status window.Status, err error) executor.Result {
		e.finishWindow(t.ID, status, err)
		return executor.Result{
			WindowID: t.ID,
			Title:    t.Title,
			Status:   status,
			Attempts: e.retryCount(t.ID),
			Error:    err,
			Duration: time.Since(start),
		}
	}

	if err := waitAt(barrier.PointStart); err != nil {
		return fail(window.StatusFailed, err)
	}

	if err := e.windowSlots.Acquire(ctx); err != nil {
		return fail(window.StatusCancelled, fmt.Errorf("window slot: %w", err))
	}
	defer e.windowSlots.Release()

	if err := e.registry.MarkRunning(t.ID); err != nil {
		return fail(window.StatusFailed, err)
	}

	releaseService, err := e.assignService(ctx, t, spec)
	if err != nil {
		return fail(window.StatusFailed, err)
	}
	defer releaseService()

	runner := e.factory(t.ID, spec)
	if err := waitAt(barrier.PointWorkflowReady); err != nil {
		return fail(window.StatusFailed, err)
	}
	if err := waitAt(barrier.PointExecutionBegin); err != nil {
		return fail(window.StatusFailed, err)
	}

	unit := executor.NewUnit(t.ID, func(unitCtx context.Context) error {
		return e.retrier.ExecuteWithRetry(unitCtx, t.ID, func(c context.Context) error {
			return runner.Run(c)
		}, e.retryNotify(t.ID))
	})
	if err := e.registry.BindUnit(t.ID, unit); err != nil {
		return fail(window.StatusFailed, err)
	}
	defer e.registry.ClearUnit(t.ID)

	// The unit's parent is the engine lifetime context, not the dispatch
	// context: once dispatched, a window is only stopped through the stop
	// protocol.
	if err := unit.Start(e.baseCtx); err != nil {
		return fail(window.StatusFailed, err)
	}
	runErr := unit.Wait(e.baseCtx)

	// Late sync points are reached regardless of the window's own outcome
	// so siblings are not left waiting on a window that already failed.
	stepErr := waitAt(barrier.PointStepComplete)

	status := window.StatusCompleted
	finalErr := runErr
	switch {
	case runErr == nil && stepErr != nil:
		status, finalErr = window.StatusFailed, stepErr
	case runErr != nil && util.IsCancelled(runErr):
		status = window.StatusCancelled
	case runErr != nil:
		status = window.StatusFailed
	}
	e.finishWindow(t.ID, status, finalErr)

	r := executor.Result{
		WindowID: t.ID,
		Title:    t.Title,
		Success:  status == window.StatusCompleted,
		Status:   status,
		Attempts: e.retryCount(t.ID),
		Error:    finalErr,
		Duration: time.Since(start),
	}

	if err := waitAt(barrier.PointFinish); err != nil {
		e.logger.Warn("finish sync point broken", "windowId", t.ID, "error", err)
	}
	return r
}

// assignService maps the window onto a shared recognition service for the
// duration of its run. Workflows without recognition steps run without a
// service when none is available; workflows that recognize fail instead.
func (e *Engine) assignService(ctx context.Context, t window.Task, spec executor.Spec) (func(), error) {
	noop := func() {}
	if !e.serviceSlots.TryAcquire() {
		if spec.NeedsRecognition() {
			return nil, fmt.Errorf("service slots exhausted: %w", util.ErrNoCapacity)
		}
		e.logger.Warn("no service slot free, window runs without shared service",
			"windowId", t.ID)
		return noop, nil
	}

	serviceID, err := e.services.AssignWindow(ctx, t.ID, t.Title)
	if err != nil {
		e.serviceSlots.Release()
		if spec.NeedsRecognition() {
			return nil, fmt.Errorf("assign shared service: %w", err)
		}
		e.logger.Warn("window runs without shared service",
			"windowId", t.ID, "error", err)
		return noop, nil
	}

	e.logger.Debug("window assigned to shared service",
		"windowId", t.ID, "serviceId", serviceID)
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), serviceReleaseGrace)
		defer cancel()
		e.services.ReleaseWindow(releaseCtx, t.ID)
		e.serviceSlots.Release()
	}, nil
}

// retryNotify records retry progress on the window's registry entry
func (e *Engine) retryNotify(id string) breaker.NotifyFunc {
	return func(attempt int, delay time.Duration, cause error) {
		count, err := e.registry.MarkRetrying(id, cause)
		if err != nil {
			return
		}
		e.logger.Debug("window retrying",
			"windowId", id, "retry", count, "delay", delay, "error", cause)
	}
}

func (e *Engine) finishWindow(id string, status window.Status, cause error) {
	if err := e.registry.Finish(id, status, cause); err != nil {
		e.logger.Warn("finish bookkeeping failed", "windowId", id, "error", err)
	}
}

func (e *Engine) retryCount(id string) int {
	t, err := e.registry.Get(id)
	if err != nil {
		return 0
	}
	return t.RetryCount
}

// skippedResult records a window that was never dispatched because the run
// was cancelled first
func (e *Engine) skippedResult(t window.Task, cause error) executor.Result {
	e.finishWindow(t.ID, window.StatusCancelled, cause)
	return executor.Result{
		WindowID: t.ID,
		Title:    t.Title,
		Status:   window.StatusCancelled,
		Error:    cause,
	}
}

// gatedRecognizer admits recognition calls through the network capacity
// pool before routing them to the window's assigned shared service
type gatedRecognizer struct {
	slots *pool.ResourcePool
	pool  *servicepool.Pool
}

func (g gatedRecognizer) Recognize(ctx context.Context, windowID string, image []byte, confidenceThreshold float64) ([]servicepool.Match, error) {
	if err := g.slots.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("network slot: %w", err)
	}
	defer g.slots.Release()
	return g.pool.Recognize(ctx, windowID, image, confidenceThreshold)
}
