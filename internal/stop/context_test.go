package stop

import (
	"testing"
)

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateRunning, false},
		{StateStopRequested, false},
		{StateStopping, false},
		{StateStopped, true},
		{StateForceStopped, true},
		{StateError, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestContext_ForwardTransitions(t *testing.T) {
	c := newContext("win1")

	if c.State() != StateRunning {
		t.Fatalf("new context should be running, got %s", c.State())
	}

	if !c.advance(StateStopRequested) {
		t.Error("running -> stop_requested should succeed")
	}
	if c.Snapshot().RequestedAt.IsZero() {
		t.Error("requestedAt should be stamped on stop request")
	}

	if !c.advance(StateStopping) {
		t.Error("stop_requested -> stopping should succeed")
	}

	if !c.finish(StateStopped, "") {
		t.Error("stopping -> stopped should succeed")
	}
	if c.Snapshot().StoppedAt.IsZero() {
		t.Error("stoppedAt should be stamped on terminal transition")
	}
}

func TestContext_BackwardTransitionsRejected(t *testing.T) {
	c := newContext("win1")
	c.advance(StateStopRequested)
	c.advance(StateStopping)

	if c.advance(StateStopRequested) {
		t.Error("stopping -> stop_requested should be rejected")
	}
	if c.State() != StateStopping {
		t.Errorf("state changed on rejected transition: %s", c.State())
	}
}

func TestContext_SkipAhead(t *testing.T) {
	// A window can go straight from running to a terminal state, as the
	// supervising timer does
	c := newContext("win1")

	if !c.finish(StateForceStopped, "stop timeout exceeded") {
		t.Error("running -> force_stopped should succeed")
	}
	if c.State() != StateForceStopped {
		t.Errorf("expected force_stopped, got %s", c.State())
	}
	if c.Snapshot().ErrorMessage != "stop timeout exceeded" {
		t.Errorf("message not recorded: %q", c.Snapshot().ErrorMessage)
	}
}

func TestContext_TerminalIsFinal(t *testing.T) {
	c := newContext("win1")
	c.advance(StateStopRequested)
	c.finish(StateStopped, "")

	if c.finish(StateError, "late failure") {
		t.Error("terminal state must not be overwritten")
	}
	if c.advance(StateStopping) {
		t.Error("terminal state must not advance")
	}
	if c.State() != StateStopped {
		t.Errorf("expected stopped, got %s", c.State())
	}
	if c.Snapshot().ErrorMessage != "" {
		t.Errorf("message overwritten after terminal: %q", c.Snapshot().ErrorMessage)
	}
}

func TestContext_FinishRejectsNonTerminal(t *testing.T) {
	c := newContext("win1")

	if c.finish(StateStopping, "") {
		t.Error("finish should reject non-terminal target states")
	}
	if c.State() != StateRunning {
		t.Errorf("state changed on rejected finish: %s", c.State())
	}
}

func TestContext_Snapshot(t *testing.T) {
	c := newContext("win1")
	c.advance(StateStopRequested)

	snap := c.Snapshot()
	if snap.WindowID != "win1" {
		t.Errorf("expected win1, got %s", snap.WindowID)
	}
	if snap.State != StateStopRequested {
		t.Errorf("expected stop_requested, got %s", snap.State)
	}
	if !snap.StoppedAt.IsZero() {
		t.Error("stoppedAt should be zero before terminal state")
	}
}
