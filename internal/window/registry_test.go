package window

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(testLogger())

	if r == nil {
		t.Fatal("expected registry, got nil")
	}

	if r.tasks == nil {
		t.Error("expected tasks map to be initialized")
	}

	if r.units == nil {
		t.Error("expected units map to be initialized")
	}

	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d tasks", r.Count())
	}
}

func TestNewRegistry_NilLogger(t *testing.T) {
	r := NewRegistry(nil)

	if r.logger == nil {
		t.Error("expected default logger when nil is provided")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(testLogger())

	id := r.Register("Account A", 0x1A2B, true)

	if id != TaskID("Account A", 0x1A2B) {
		t.Errorf("unexpected id %q", id)
	}

	task, err := r.Get(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Title != "Account A" {
		t.Errorf("expected title 'Account A', got %q", task.Title)
	}

	if task.Handle != 0x1A2B {
		t.Errorf("expected handle 0x1A2B, got %s", task.Handle)
	}

	if !task.Enabled {
		t.Error("expected task to be enabled")
	}

	if task.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, task.Status)
	}
}

func TestRegistry_Register_Idempotent(t *testing.T) {
	r := NewRegistry(testLogger())

	first := r.Register("Account A", 0x1000, true)
	second := r.Register("Account A", 0x1000, false)

	if first != second {
		t.Errorf("expected same id on re-register, got %q and %q", first, second)
	}

	if r.Count() != 1 {
		t.Errorf("expected 1 task after double register, got %d", r.Count())
	}

	task, err := r.Get(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Enabled {
		t.Error("expected enabled flag to be refreshed to false")
	}
}

func TestRegistry_Register_SameTitleDifferentHandle(t *testing.T) {
	r := NewRegistry(testLogger())

	a := r.Register("Account", 0x1, true)
	b := r.Register("Account", 0x2, true)

	if a == b {
		t.Error("expected distinct ids for distinct handles")
	}

	if r.Count() != 2 {
		t.Errorf("expected 2 tasks, got %d", r.Count())
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(testLogger())
	id := r.Register("Account A", 0x1, true)

	if err := r.Remove(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Count() != 0 {
		t.Errorf("expected 0 tasks after remove, got %d", r.Count())
	}

	if err := r.Remove(id); !errors.Is(err, util.ErrWindowNotFound) {
		t.Errorf("expected ErrWindowNotFound, got %v", err)
	}
}

func TestRegistry_List_Order(t *testing.T) {
	r := NewRegistry(testLogger())

	var want []string
	for i := 0; i < 5; i++ {
		id := r.Register(fmt.Sprintf("Window %d", i), Handle(i+1), true)
		want = append(want, id)
	}

	// Removing and re-adding should move the task to the back
	if err := r.Remove(want[1]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readded := r.Register("Window 1", 2, true)
	want = append(append(want[:1], want[2:]...), readded)

	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(got))
	}

	for i, task := range got {
		if task.ID != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], task.ID)
		}
	}
}

func TestRegistry_Enabled(t *testing.T) {
	r := NewRegistry(testLogger())

	r.Register("A", 1, true)
	r.Register("B", 2, false)
	r.Register("C", 3, true)

	enabled := r.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled tasks, got %d", len(enabled))
	}

	if enabled[0].Title != "A" || enabled[1].Title != "C" {
		t.Errorf("expected [A C] in order, got [%s %s]", enabled[0].Title, enabled[1].Title)
	}

	if r.EnabledCount() != 2 {
		t.Errorf("expected enabled count 2, got %d", r.EnabledCount())
	}
}

func TestRegistry_SetEnabled(t *testing.T) {
	r := NewRegistry(testLogger())
	id := r.Register("A", 1, false)

	if err := r.SetEnabled(id, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, _ := r.Get(id)
	if !task.Enabled {
		t.Error("expected task to be enabled")
	}

	if err := r.SetEnabled("missing", true); !errors.Is(err, util.ErrWindowNotFound) {
		t.Errorf("expected ErrWindowNotFound, got %v", err)
	}
}

func TestRegistry_ResetEnabled(t *testing.T) {
	r := NewRegistry(testLogger())

	a := r.Register("A", 1, true)
	b := r.Register("B", 2, false)

	if err := r.MarkRunning(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.MarkRetrying(a, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Finish(a, StatusFailed, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Finish(b, StatusCancelled, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := r.ResetEnabled()
	if n != 1 {
		t.Errorf("expected 1 task reset, got %d", n)
	}

	task, _ := r.Get(a)
	if task.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", task.RetryCount)
	}
	if task.LastError != "" {
		t.Errorf("expected empty last error, got %q", task.LastError)
	}
	if !task.StartTime.IsZero() || !task.EndTime.IsZero() {
		t.Error("expected timestamps to be cleared")
	}

	// Disabled task keeps its terminal state
	disabled, _ := r.Get(b)
	if disabled.Status != StatusCancelled {
		t.Errorf("expected disabled task untouched, got status %s", disabled.Status)
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry(testLogger())
	id := r.Register("A", 1, true)

	if err := r.MarkRunning(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, _ := r.Get(id)
	if task.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, task.Status)
	}
	if task.StartTime.IsZero() {
		t.Error("expected start time to be set")
	}

	retries, err := r.MarkRetrying(id, errors.New("attempt failed"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retries != 1 {
		t.Errorf("expected retry count 1, got %d", retries)
	}

	task, _ = r.Get(id)
	if task.Status != StatusRetrying {
		t.Errorf("expected status %s, got %s", StatusRetrying, task.Status)
	}
	if task.LastError != "attempt failed" {
		t.Errorf("expected last error recorded, got %q", task.LastError)
	}

	if err := r.Finish(id, StatusCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, _ = r.Get(id)
	if task.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, task.Status)
	}
	if task.EndTime.IsZero() {
		t.Error("expected end time to be set")
	}
	if task.Duration() < 0 {
		t.Errorf("expected non-negative duration, got %v", task.Duration())
	}
}

func TestRegistry_Finish_NonTerminal(t *testing.T) {
	r := NewRegistry(testLogger())
	id := r.Register("A", 1, true)

	if err := r.Finish(id, StatusRunning, nil); err == nil {
		t.Error("expected error for non-terminal status")
	}
}

func TestRegistry_Units(t *testing.T) {
	r := NewRegistry(testLogger())
	id := r.Register("A", 1, true)

	unit := &fakeUnit{alive: true}
	if err := r.BindUnit(id, unit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.BindUnit("missing", unit); !errors.Is(err, util.ErrWindowNotFound) {
		t.Errorf("expected ErrWindowNotFound, got %v", err)
	}

	units := r.Units()
	if len(units) != 1 {
		t.Fatalf("expected 1 bound unit, got %d", len(units))
	}
	if units[id] != unit {
		t.Error("expected bound unit to round-trip")
	}

	r.ClearUnit(id)
	if len(r.Units()) != 0 {
		t.Error("expected no units after clear")
	}
}

func TestRegistry_StatusCounts(t *testing.T) {
	r := NewRegistry(testLogger())

	a := r.Register("A", 1, true)
	b := r.Register("B", 2, true)
	r.Register("C", 3, true)

	if err := r.MarkRunning(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.MarkRunning(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Finish(b, StatusCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := r.StatusCounts()
	if counts[StatusRunning] != 1 {
		t.Errorf("expected 1 running, got %d", counts[StatusRunning])
	}
	if counts[StatusCompleted] != 1 {
		t.Errorf("expected 1 completed, got %d", counts[StatusCompleted])
	}
	if counts[StatusPending] != 1 {
		t.Errorf("expected 1 pending, got %d", counts[StatusPending])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent access test in short mode")
	}

	r := NewRegistry(testLogger())

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = r.Register(fmt.Sprintf("Window %d", i), Handle(i+1), true)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 200)

	// Concurrent lifecycle updates
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			id := ids[n%len(ids)]
			if err := r.MarkRunning(id); err != nil {
				errCh <- fmt.Errorf("run %d: %w", n, err)
				return
			}
			if err := r.Finish(id, StatusCompleted, nil); err != nil {
				errCh <- fmt.Errorf("finish %d: %w", n, err)
			}
		}(i)
	}

	// Concurrent reads
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			if _, err := r.Get(ids[n%len(ids)]); err != nil {
				errCh <- fmt.Errorf("get %d: %w", n, err)
			}
			_ = r.List()
			_ = r.StatusCounts()
		}(i)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		t.Errorf("concurrent access errors: %v", errs)
	}
}

func TestTaskDuration_NotStarted(t *testing.T) {
	task := Task{}
	if task.Duration() != 0 {
		t.Errorf("expected zero duration, got %v", task.Duration())
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusRetrying, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

// fakeUnit is a minimal Stoppable for registry tests
type fakeUnit struct {
	mu    sync.Mutex
	alive bool
}

func (f *fakeUnit) RequestStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeUnit) Join(timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.alive
}

func (f *fakeUnit) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeUnit) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}
