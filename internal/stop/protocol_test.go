package stop

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xiaomingjie/multiwin/internal/window"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUnit is a controllable Stoppable for protocol tests
type fakeUnit struct {
	// ignoreStop makes the unit deaf to cooperative stop requests
	ignoreStop bool

	// ignoreKill makes the unit survive forced termination
	ignoreKill bool

	// joinDelay simulates a Join implementation that overruns its
	// timeout argument
	joinDelay time.Duration

	mu     sync.Mutex
	once   sync.Once
	done   chan struct{}
	killed bool
}

func newFakeUnit() *fakeUnit {
	return &fakeUnit{done: make(chan struct{})}
}

func (f *fakeUnit) finish() {
	f.once.Do(func() { close(f.done) })
}

func (f *fakeUnit) RequestStop() {
	if !f.ignoreStop {
		f.finish()
	}
}

func (f *fakeUnit) Kill() {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()

	if !f.ignoreKill {
		f.finish()
	}
}

func (f *fakeUnit) Join(timeout time.Duration) bool {
	if f.joinDelay > 0 {
		time.Sleep(f.joinDelay)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

func (f *fakeUnit) IsAlive() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

func (f *fakeUnit) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

// fakeServicePool records the pool calls the protocol makes
type fakeServicePool struct {
	ids      []string
	stopErrs map[string]error

	mu       sync.Mutex
	stopped  []string
	evicted  []string
	released []string
}

func (f *fakeServicePool) ServiceIDs() []string {
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

func (f *fakeServicePool) StopInstance(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	f.stopped = append(f.stopped, serviceID)
	f.mu.Unlock()
	return f.stopErrs[serviceID]
}

func (f *fakeServicePool) EvictInstance(serviceID string) bool {
	f.mu.Lock()
	f.evicted = append(f.evicted, serviceID)
	f.mu.Unlock()
	return true
}

func (f *fakeServicePool) ReleaseWindow(ctx context.Context, windowID string) {
	f.mu.Lock()
	f.released = append(f.released, windowID)
	f.mu.Unlock()
}

func (f *fakeServicePool) releasedWindows() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.released))
	copy(out, f.released)
	return out
}

func TestProtocol_StopAll_AllGraceful(t *testing.T) {
	p := New(testLogger())

	units := map[string]window.Stoppable{
		"win1": newFakeUnit(),
		"win2": newFakeUnit(),
		"win3": newFakeUnit(),
	}

	report := p.StopAll(units, nil, 5*time.Second)

	if !report.Success {
		t.Errorf("expected success, got %+v", report)
	}
	if report.Total != 3 || report.Succeeded != 3 || report.Forced != 0 || report.Failed != 0 {
		t.Errorf("unexpected counts: %+v", report)
	}
	if p.InProgress() {
		t.Error("protocol should not be in progress after completion")
	}

	for _, snap := range p.Snapshots() {
		if snap.State != StateStopped {
			t.Errorf("window %s: expected stopped, got %s", snap.WindowID, snap.State)
		}
	}
}

func TestProtocol_StopAll_HungWindowIsForced(t *testing.T) {
	// Three windows, one deaf to cooperative stop. The deaf one must be
	// force-stopped and the overall run still counts as a success.
	p := New(testLogger())

	hung := newFakeUnit()
	hung.ignoreStop = true

	units := map[string]window.Stoppable{
		"win1": newFakeUnit(),
		"win2": newFakeUnit(),
		"win3": hung,
	}

	start := time.Now()
	report := p.StopAll(units, nil, 5*time.Second)
	elapsed := time.Since(start)

	if !report.Success {
		t.Errorf("expected success, got %+v", report)
	}
	if report.Succeeded != 2 {
		t.Errorf("expected 2 graceful stops, got %d", report.Succeeded)
	}
	if report.Forced != 1 {
		t.Errorf("expected 1 forced stop, got %d", report.Forced)
	}
	if report.Failed != 0 {
		t.Errorf("expected 0 failures, got %d", report.Failed)
	}
	if !hung.wasKilled() {
		t.Error("hung unit should have been killed")
	}
	if elapsed >= 5*time.Second {
		t.Errorf("stop took the full timeout (%v), should finish earlier", elapsed)
	}
}

func TestProtocol_StopAll_SurvivorIsError(t *testing.T) {
	p := New(testLogger())

	survivor := newFakeUnit()
	survivor.ignoreStop = true
	survivor.ignoreKill = true

	units := map[string]window.Stoppable{
		"win1": newFakeUnit(),
		"win2": survivor,
	}

	report := p.StopAll(units, nil, 2*time.Second)

	if report.Success {
		t.Errorf("expected failure, got %+v", report)
	}
	if report.Succeeded != 1 || report.Forced != 0 || report.Failed != 1 {
		t.Errorf("unexpected counts: %+v", report)
	}

	for _, snap := range p.Snapshots() {
		if snap.WindowID == "win2" {
			if snap.State != StateError {
				t.Errorf("survivor should be in error state, got %s", snap.State)
			}
			if snap.ErrorMessage == "" {
				t.Error("survivor should carry an error message")
			}
		}
	}
}

func TestProtocol_StopAll_Empty(t *testing.T) {
	p := New(testLogger())

	report := p.StopAll(map[string]window.Stoppable{}, nil, time.Second)

	if !report.Success {
		t.Errorf("empty stop should succeed, got %+v", report)
	}
	if report.Total != 0 {
		t.Errorf("expected 0 windows, got %d", report.Total)
	}
}

func TestProtocol_StopAll_ServicePool(t *testing.T) {
	p := New(testLogger())

	pool := &fakeServicePool{
		ids:      []string{"svc-1", "svc-2"},
		stopErrs: map[string]error{"svc-2": errors.New("still busy")},
	}

	units := map[string]window.Stoppable{
		"win1": newFakeUnit(),
		"win2": newFakeUnit(),
	}

	report := p.StopAll(units, pool, 5*time.Second)

	if !report.Success {
		t.Errorf("expected success, got %+v", report)
	}

	pool.mu.Lock()
	stopped := len(pool.stopped)
	evicted := make([]string, len(pool.evicted))
	copy(evicted, pool.evicted)
	pool.mu.Unlock()

	// Both services get a graceful attempt, only the stubborn one is evicted
	if stopped != 2 {
		t.Errorf("expected 2 graceful service stops, got %d", stopped)
	}
	if len(evicted) != 1 || evicted[0] != "svc-2" {
		t.Errorf("expected svc-2 evicted, got %v", evicted)
	}

	// Every window's assignment is released regardless of outcome
	released := pool.releasedWindows()
	if len(released) != 2 {
		t.Errorf("expected 2 released windows, got %v", released)
	}
}

func TestProtocol_StopAll_CleanupCallbacks(t *testing.T) {
	p := New(testLogger())

	var mu sync.Mutex
	ran := make([]string, 0)

	p.RegisterCleanup("locks", func(ctx context.Context) error {
		mu.Lock()
		ran = append(ran, "locks")
		mu.Unlock()
		return nil
	})
	p.RegisterCleanup("queues", func(ctx context.Context) error {
		mu.Lock()
		ran = append(ran, "queues")
		mu.Unlock()
		return errors.New("queue drain failed")
	})
	p.RegisterCleanup("counters", func(ctx context.Context) error {
		mu.Lock()
		ran = append(ran, "counters")
		mu.Unlock()
		return nil
	})

	units := map[string]window.Stoppable{"win1": newFakeUnit()}
	report := p.StopAll(units, nil, 2*time.Second)

	// A failing callback never aborts the others or the report
	if !report.Success {
		t.Errorf("cleanup failure should not fail the stop, got %+v", report)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 3 {
		t.Errorf("expected all 3 cleanups to run, got %v", ran)
	}
}

func TestProtocol_StopAll_SupervisorTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	p := New(testLogger())

	// A misbehaving unit whose Join overruns every timeout it is given
	stuck := newFakeUnit()
	stuck.ignoreStop = true
	stuck.ignoreKill = true
	stuck.joinDelay = 700 * time.Millisecond

	units := map[string]window.Stoppable{"win1": stuck}

	start := time.Now()
	report := p.StopAll(units, nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	// The supervising timer publishes a degraded report near the timeout
	// instead of waiting for the phases to unwind
	if elapsed > 500*time.Millisecond {
		t.Errorf("report took %v, supervisor should cap near 100ms", elapsed)
	}
	if !strings.Contains(report.Message, "timed out") {
		t.Errorf("degraded report should mention the timeout: %q", report.Message)
	}
	if report.Forced != 1 {
		t.Errorf("straggler should be force-marked, got %+v", report)
	}
	if !report.Success {
		t.Errorf("force-marked windows do not fail the report, got %+v", report)
	}

	// The background episode is still unwinding, so new episodes and
	// window stops are rejected
	if !p.InProgress() {
		t.Error("protocol should still be in progress after degraded report")
	}
	second := p.StopAll(units, nil, time.Second)
	if second.Success || !strings.Contains(second.Message, "in progress") {
		t.Errorf("concurrent stop should be rejected, got %+v", second)
	}

	// Eventually the background phases finish and the flag clears
	deadline := time.Now().Add(5 * time.Second)
	for p.InProgress() {
		if time.Now().After(deadline) {
			t.Fatal("in-progress flag never cleared")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProtocol_StopAll_Reusable(t *testing.T) {
	p := New(testLogger())

	first := p.StopAll(map[string]window.Stoppable{"win1": newFakeUnit()}, nil, time.Second)
	if !first.Success {
		t.Fatalf("first episode failed: %+v", first)
	}

	second := p.StopAll(map[string]window.Stoppable{"win2": newFakeUnit(), "win3": newFakeUnit()}, nil, time.Second)
	if !second.Success {
		t.Fatalf("second episode failed: %+v", second)
	}
	if second.Total != 2 {
		t.Errorf("second episode should track its own windows, got %+v", second)
	}

	// Snapshots reflect the latest episode only
	snaps := p.Snapshots()
	if len(snaps) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(snaps))
	}
}

func TestProtocol_StopWindow(t *testing.T) {
	tests := []struct {
		name        string
		unit        *fakeUnit
		wantSuccess bool
		wantState   State
	}{
		{
			name:        "graceful",
			unit:        newFakeUnit(),
			wantSuccess: true,
			wantState:   StateStopped,
		},
		{
			name: "forced",
			unit: func() *fakeUnit {
				u := newFakeUnit()
				u.ignoreStop = true
				return u
			}(),
			wantSuccess: true,
			wantState:   StateForceStopped,
		},
		{
			name: "survivor",
			unit: func() *fakeUnit {
				u := newFakeUnit()
				u.ignoreStop = true
				u.ignoreKill = true
				return u
			}(),
			wantSuccess: false,
			wantState:   StateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(testLogger())
			pool := &fakeServicePool{}

			report := p.StopWindow("win1", tt.unit, pool, time.Second)

			if report.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v (%+v)", report.Success, tt.wantSuccess, report)
			}
			if report.Total != 1 {
				t.Errorf("expected 1 window, got %d", report.Total)
			}

			snaps := p.Snapshots()
			if len(snaps) != 1 || snaps[0].State != tt.wantState {
				t.Errorf("expected state %s, got %+v", tt.wantState, snaps)
			}

			released := pool.releasedWindows()
			if len(released) != 1 || released[0] != "win1" {
				t.Errorf("window assignment not released: %v", released)
			}
		})
	}
}

func TestProtocol_StopWindow_NilUnit(t *testing.T) {
	p := New(testLogger())

	report := p.StopWindow("win1", nil, nil, time.Second)

	if report.Success {
		t.Error("stopping a window without a unit should fail")
	}
	if !strings.Contains(report.Message, "no running unit") {
		t.Errorf("unexpected message: %q", report.Message)
	}
}

func TestProtocol_Reset(t *testing.T) {
	p := New(testLogger())

	p.StopAll(map[string]window.Stoppable{"win1": newFakeUnit()}, nil, time.Second)
	if len(p.Snapshots()) != 1 {
		t.Fatal("expected one snapshot before reset")
	}

	p.Reset()
	if len(p.Snapshots()) != 0 {
		t.Error("expected no snapshots after reset")
	}
}

func TestProtocol_Snapshots_Sorted(t *testing.T) {
	p := New(testLogger())

	units := map[string]window.Stoppable{
		"zeta":  newFakeUnit(),
		"alpha": newFakeUnit(),
		"mid":   newFakeUnit(),
	}
	p.StopAll(units, nil, time.Second)

	snaps := p.Snapshots()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	if snaps[0].WindowID != "alpha" || snaps[1].WindowID != "mid" || snaps[2].WindowID != "zeta" {
		t.Errorf("snapshots not sorted: %v", snaps)
	}
}
