// Package stop implements the multi-phase shutdown protocol for running
// window workflows and their shared recognition services.
//
// A stop episode walks five phases: request cooperative stops, wait for
// graceful completion under a bounded time slice, force-terminate the
// stragglers, clear service-pool assignments, and run registered cleanup
// callbacks. Every episode ends with a report, even when individual
// phases fail, and a supervising timer guarantees the caller gets that
// report within its timeout.
package stop

import (
	"sync"
	"time"
)

// State is one window's position in a stop episode
type State string

const (
	StateRunning       State = "running"
	StateStopRequested State = "stop_requested"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateForceStopped  State = "force_stopped"
	StateError         State = "error"
)

// stateRank orders states along the only legal path:
// Running -> StopRequested -> Stopping -> terminal
var stateRank = map[State]int{
	StateRunning:       0,
	StateStopRequested: 1,
	StateStopping:      2,
	StateStopped:       3,
	StateForceStopped:  3,
	StateError:         3,
}

// Terminal reports whether the state ends the episode for its window
func (s State) Terminal() bool {
	return s == StateStopped || s == StateForceStopped || s == StateError
}

// String returns the state name
func (s State) String() string {
	return string(s)
}

// Context tracks one window through a stop episode. Transitions only move
// forward; once a window reaches a terminal state it never leaves it
// within the same episode.
type Context struct {
	windowID string

	mu           sync.Mutex
	state        State
	requestedAt  time.Time
	stoppedAt    time.Time
	errorMessage string
}

// Snapshot is a point-in-time copy of a stop context
type Snapshot struct {
	WindowID     string    `json:"windowId" yaml:"windowId"`
	State        State     `json:"state" yaml:"state"`
	RequestedAt  time.Time `json:"requestedAt,omitempty" yaml:"requestedAt,omitempty"`
	StoppedAt    time.Time `json:"stoppedAt,omitempty" yaml:"stoppedAt,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
}

func newContext(windowID string) *Context {
	return &Context{
		windowID: windowID,
		state:    StateRunning,
	}
}

// WindowID returns the window this context tracks
func (c *Context) WindowID() string {
	return c.windowID
}

// State returns the current state
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// advance moves the context forward to a non-terminal state. Backward and
// same-rank moves are rejected, as is any move out of a terminal state.
func (c *Context) advance(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() || stateRank[to] <= stateRank[c.state] {
		return false
	}

	c.state = to
	if to == StateStopRequested {
		c.requestedAt = time.Now()
	}
	return true
}

// finish moves the context to a terminal state and stamps the stop time.
// The first terminal transition wins; later calls are ignored.
func (c *Context) finish(to State, errorMessage string) bool {
	if !to.Terminal() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return false
	}

	c.state = to
	c.stoppedAt = time.Now()
	c.errorMessage = errorMessage
	return true
}

// Snapshot returns a copy of the context's current values
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		WindowID:     c.windowID,
		State:        c.state,
		RequestedAt:  c.requestedAt,
		StoppedAt:    c.stoppedAt,
		ErrorMessage: c.errorMessage,
	}
}
