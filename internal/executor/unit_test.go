package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

func TestUnit_StartAndJoin(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	if unit.WindowID() != "win1" {
		t.Errorf("expected win1, got %s", unit.WindowID())
	}

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !unit.IsAlive() {
		t.Error("unit should be alive right after start")
	}

	if !unit.Join(time.Second) {
		t.Fatal("unit did not finish within timeout")
	}

	if unit.IsAlive() {
		t.Error("unit should not be alive after completion")
	}

	if err := unit.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUnit_DoubleStart(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	err := unit.Start(context.Background())
	if err == nil {
		t.Error("second start should fail")
	}
	if !errors.Is(err, util.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	unit.Join(time.Second)
}

func TestUnit_RequestStop(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	unit.RequestStop()

	if !unit.Join(time.Second) {
		t.Fatal("unit did not stop after RequestStop")
	}

	if !errors.Is(unit.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", unit.Err())
	}
}

func TestUnit_RequestStop_BeforeStart(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error { return nil })

	// Must not panic on an unstarted unit
	unit.RequestStop()

	if unit.IsAlive() {
		t.Error("unstarted unit should not be alive")
	}
	if !unit.Join(time.Millisecond) {
		t.Error("unstarted unit should join immediately")
	}
}

func TestUnit_Join_Timeout(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		unit.RequestStop()
		unit.Join(time.Second)
	}()

	if unit.Join(20 * time.Millisecond) {
		t.Error("expected join to time out while workflow is running")
	}
}

func TestUnit_Kill(t *testing.T) {
	started := make(chan struct{})
	unit := NewUnit("win1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-started

	unit.Kill()

	// Kill disowns the unit immediately
	if unit.IsAlive() {
		t.Error("killed unit should not report alive")
	}

	if !unit.Join(time.Second) {
		t.Fatal("killed unit did not finish")
	}
}

func TestUnit_WorkflowError(t *testing.T) {
	wantErr := errors.New("step failed")
	unit := NewUnit("win1", func(ctx context.Context) error {
		return wantErr
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !unit.Join(time.Second) {
		t.Fatal("unit did not finish")
	}

	if !errors.Is(unit.Err(), wantErr) {
		t.Errorf("expected %v, got %v", wantErr, unit.Err())
	}
}

func TestUnit_PanicRecovered(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		panic("boom")
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !unit.Join(time.Second) {
		t.Fatal("unit did not finish after panic")
	}

	err := unit.Err()
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if got := err.Error(); got != "workflow panicked: boom" {
		t.Errorf("unexpected panic error: %q", got)
	}
}

func TestUnit_Err_WhileRunning(t *testing.T) {
	release := make(chan struct{})
	unit := NewUnit("win1", func(ctx context.Context) error {
		<-release
		return errors.New("late error")
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := unit.Err(); err != nil {
		t.Errorf("expected nil error while running, got %v", err)
	}

	close(release)
	unit.Join(time.Second)

	if unit.Err() == nil {
		t.Error("expected error after completion")
	}
}

func TestUnit_Wait(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := unit.Wait(context.Background()); err != nil {
		t.Errorf("unexpected wait error: %v", err)
	}
}

func TestUnit_Wait_ContextExpires(t *testing.T) {
	unit := NewUnit("win1", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := unit.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		unit.RequestStop()
		unit.Join(time.Second)
	}()

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := unit.Wait(waitCtx)
	if err == nil {
		t.Fatal("expected wait to fail when context expires")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestUnit_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	unit := NewUnit("win1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := unit.Start(parent); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	cancel()

	if !unit.Join(time.Second) {
		t.Fatal("unit did not observe parent cancellation")
	}
	if !errors.Is(unit.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", unit.Err())
	}
}
