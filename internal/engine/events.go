package engine

import (
	"sync"

	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/stop"
)

// Events is the engine's observer registry. Any frontend can subscribe to
// typed notifications without coupling the engine to a UI framework. The
// engine invokes callbacks synchronously from its dispatch goroutines, so
// they must return promptly and do their own locking.
type Events struct {
	mu         sync.RWMutex
	progress   []executor.ProgressFunc
	windowDone []func(executor.Result)
	allDone    []func(executor.Summary, []executor.Result)
	stopDone   []func(stop.Report)
}

func newEvents() *Events {
	return &Events{}
}

// OnProgress registers fn to receive a completed/total update after every
// window result
func (ev *Events) OnProgress(fn executor.ProgressFunc) {
	if fn == nil {
		return
	}
	ev.mu.Lock()
	ev.progress = append(ev.progress, fn)
	ev.mu.Unlock()
}

// OnWindowCompleted registers fn to receive each window's final result
func (ev *Events) OnWindowCompleted(fn func(executor.Result)) {
	if fn == nil {
		return
	}
	ev.mu.Lock()
	ev.windowDone = append(ev.windowDone, fn)
	ev.mu.Unlock()
}

// OnAllCompleted registers fn to receive the run summary once every
// enabled window has landed
func (ev *Events) OnAllCompleted(fn func(executor.Summary, []executor.Result)) {
	if fn == nil {
		return
	}
	ev.mu.Lock()
	ev.allDone = append(ev.allDone, fn)
	ev.mu.Unlock()
}

// OnStopReport registers fn to receive the report of every pool-wide stop
// episode
func (ev *Events) OnStopReport(fn func(stop.Report)) {
	if fn == nil {
		return
	}
	ev.mu.Lock()
	ev.stopDone = append(ev.stopDone, fn)
	ev.mu.Unlock()
}

func (ev *Events) emitProgress(completed, total int, r executor.Result) {
	ev.mu.RLock()
	fns := make([]executor.ProgressFunc, len(ev.progress))
	copy(fns, ev.progress)
	ev.mu.RUnlock()
	for _, fn := range fns {
		fn(completed, total, r)
	}
}

func (ev *Events) emitWindowCompleted(r executor.Result) {
	ev.mu.RLock()
	fns := make([]func(executor.Result), len(ev.windowDone))
	copy(fns, ev.windowDone)
	ev.mu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (ev *Events) emitAllCompleted(summary executor.Summary, results []executor.Result) {
	ev.mu.RLock()
	fns := make([]func(executor.Summary, []executor.Result), len(ev.allDone))
	copy(fns, ev.allDone)
	ev.mu.RUnlock()
	for _, fn := range fns {
		fn(summary, results)
	}
}

func (ev *Events) emitStopReport(report stop.Report) {
	ev.mu.RLock()
	fns := make([]func(stop.Report), len(ev.stopDone))
	copy(fns, ev.stopDone)
	ev.mu.RUnlock()
	for _, fn := range fns {
		fn(report)
	}
}
