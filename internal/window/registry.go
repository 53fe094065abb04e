package window

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// Registry tracks every window task known to the engine. All mutation goes
// through the registry so task state stays consistent under concurrent
// strategies; accessors hand out copies, never shared pointers.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	units  map[string]Stoppable
	logger *slog.Logger
}

// NewRegistry creates an empty window registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tasks:  make(map[string]*Task),
		units:  make(map[string]Stoppable),
		logger: logger,
	}
}

// Register adds a window task or updates the existing one with the same
// title and handle. Registering twice never creates a duplicate; the enabled
// flag is simply refreshed. Returns the stable task ID.
func (r *Registry) Register(title string, handle Handle, enabled bool) string {
	id := TaskID(title, handle)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tasks[id]; ok {
		existing.Enabled = enabled
		r.logger.Debug("window already registered, updated",
			"window", id,
			"enabled", enabled)
		return id
	}

	r.tasks[id] = &Task{
		ID:      id,
		Title:   title,
		Handle:  handle,
		Enabled: enabled,
		Status:  StatusPending,
	}
	r.order = append(r.order, id)

	r.logger.Debug("registered window",
		"window", id,
		"handle", handle.String(),
		"enabled", enabled)
	return id
}

// Remove deletes a window task from the registry
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}

	delete(r.tasks, id)
	delete(r.units, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Debug("removed window", "window", id)
	return nil
}

// SetEnabled toggles whether a window participates in runs
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}
	t.Enabled = enabled
	return nil
}

// Get returns a copy of the task with the given ID
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}
	return *t, nil
}

// List returns copies of all tasks in registration order
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.tasks[id])
	}
	return out
}

// Enabled returns copies of all enabled tasks in registration order
func (r *Registry) Enabled() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		if r.tasks[id].Enabled {
			out = append(out, *r.tasks[id])
		}
	}
	return out
}

// Count returns the total number of registered windows
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// EnabledCount returns the number of enabled windows
func (r *Registry) EnabledCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, t := range r.tasks {
		if t.Enabled {
			n++
		}
	}
	return n
}

// ResetEnabled prepares every enabled task for a fresh run: status back to
// pending, timers, retry count and last error cleared. Returns how many
// tasks were reset.
func (r *Registry) ResetEnabled() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.tasks {
		if !t.Enabled {
			continue
		}
		t.Status = StatusPending
		t.StartTime = time.Time{}
		t.EndTime = time.Time{}
		t.RetryCount = 0
		t.LastError = ""
		n++
	}
	return n
}

// MarkRunning records that the task's execution unit has started
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}
	t.Status = StatusRunning
	t.StartTime = time.Now()
	t.EndTime = time.Time{}
	return nil
}

// MarkRetrying records a failed attempt that will be retried and returns the
// new retry count
func (r *Registry) MarkRetrying(id string, cause error) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return 0, fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}
	t.Status = StatusRetrying
	t.RetryCount++
	if cause != nil {
		t.LastError = cause.Error()
	}
	return t.RetryCount, nil
}

// Finish moves the task to a terminal status and stamps the end time
func (r *Registry) Finish(id string, status Status, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal: %w", status, util.ErrInvalidConfig)
	}
	t.Status = status
	t.EndTime = time.Now()
	if cause != nil {
		t.LastError = cause.Error()
	}
	return nil
}

// BindUnit attaches the live execution unit for a task so the stop protocol
// can reach it
func (r *Registry) BindUnit(id string, unit Stoppable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("window %q: %w", id, util.ErrWindowNotFound)
	}
	r.units[id] = unit
	return nil
}

// ClearUnit detaches the execution unit after it has finished
func (r *Registry) ClearUnit(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, id)
}

// Units returns the currently bound execution units keyed by window ID
func (r *Registry) Units() map[string]Stoppable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stoppable, len(r.units))
	for id, u := range r.units {
		out[id] = u
	}
	return out
}

// StatusCounts returns how many tasks are in each status
func (r *Registry) StatusCounts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Status]int)
	for _, t := range r.tasks {
		out[t.Status]++
	}
	return out
}
