package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// Unit is the opaque handle of one running workflow invocation. The stop
// protocol only ever talks to this surface: request a cooperative stop,
// join with a timeout, or kill. The concurrency substrate underneath stays
// hidden.
type Unit struct {
	windowID string
	run      func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc

	started atomic.Bool
	killed  atomic.Bool
	done    chan struct{}

	// err is written before done closes and read only after
	err error
}

// NewUnit wraps a workflow invocation for the given window
func NewUnit(windowID string, run func(ctx context.Context) error) *Unit {
	return &Unit{
		windowID: windowID,
		run:      run,
		done:     make(chan struct{}),
	}
}

// WindowID returns the window this unit runs for
func (u *Unit) WindowID() string {
	return u.windowID
}

// Start launches the unit. A workflow panic is captured as the unit's error
// so one window can never take down the process.
func (u *Unit) Start(parent context.Context) error {
	if !u.started.CompareAndSwap(false, true) {
		return fmt.Errorf("unit %q: %w", u.windowID, util.ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(parent)
	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()

	go func() {
		defer close(u.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				u.err = fmt.Errorf("workflow panicked: %v", r)
			}
		}()
		u.err = u.run(ctx)
	}()

	return nil
}

// RequestStop asks the workflow to stop cooperatively. Safe to call at any
// time, including before Start and after completion.
func (u *Unit) RequestStop() {
	u.mu.Lock()
	cancel := u.cancel
	u.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Join waits up to timeout for the unit to finish and reports whether it
// did. A unit that was never started joins immediately.
func (u *Unit) Join(timeout time.Duration) bool {
	if !u.started.Load() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-u.done:
		return true
	case <-timer.C:
		return false
	}
}

// Kill cancels the workflow and disowns the unit. IsAlive reports false
// from this point even if the goroutine has not yet observed the cancel.
func (u *Unit) Kill() {
	u.killed.Store(true)
	u.RequestStop()
}

// IsAlive reports whether the unit is still running
func (u *Unit) IsAlive() bool {
	if !u.started.Load() || u.killed.Load() {
		return false
	}
	select {
	case <-u.done:
		return false
	default:
		return true
	}
}

// Err returns the workflow's error once finished, nil while still running
func (u *Unit) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}

// Wait blocks until the unit finishes or ctx ends
func (u *Unit) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for unit %q: %w", u.windowID, ctx.Err())
	}
}
