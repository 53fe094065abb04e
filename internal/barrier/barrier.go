// Package barrier coordinates execution units through named rendezvous
// points. A manager owns one reusable barrier per sync point; a waiter
// blocks until every participant arrives, the wait times out, or the
// barrier is aborted.
package barrier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// Point names a rendezvous in the workflow lifecycle
type Point string

const (
	// PointStart gates the very beginning of each window's run
	PointStart Point = "start"
	// PointWorkflowReady gates the moment the workflow is loaded
	PointWorkflowReady Point = "workflow-ready"
	// PointExecutionBegin gates the first workflow step
	PointExecutionBegin Point = "execution-begin"
	// PointStepComplete gates the end of each workflow step
	PointStepComplete Point = "step-complete"
	// PointFinish gates run completion
	PointFinish Point = "finish"
)

// AllPoints returns every sync point in lifecycle order
func AllPoints() []Point {
	return []Point{
		PointStart,
		PointWorkflowReady,
		PointExecutionBegin,
		PointStepComplete,
		PointFinish,
	}
}

// generation is one trip of a reusable barrier. Its channel is closed when
// the trip completes or breaks; broken tells waiters which it was.
type generation struct {
	ch     chan struct{}
	broken bool
}

// rendezvous is a cyclic barrier for a fixed participant count. After each
// trip (or break) it resets for the next one.
type rendezvous struct {
	mu      sync.Mutex
	parties int
	waiting int
	gen     *generation
	closed  bool
}

func newRendezvous(parties int) *rendezvous {
	return &rendezvous{
		parties: parties,
		gen:     &generation{ch: make(chan struct{})},
	}
}

func (r *rendezvous) await(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("barrier aborted: %w", util.ErrBarrierBroken)
	}

	g := r.gen
	r.waiting++
	if r.waiting >= r.parties {
		// Last participant trips the barrier and resets it for reuse
		r.waiting = 0
		r.gen = &generation{ch: make(chan struct{})}
		close(g.ch)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.ch:
		if g.broken {
			return fmt.Errorf("another participant broke the barrier: %w", util.ErrBarrierBroken)
		}
		return nil
	case <-timer.C:
		return r.breakGeneration(g, "wait timed out after %v", timeout)
	case <-ctx.Done():
		return r.breakGeneration(g, "participant cancelled: %v", ctx.Err())
	}
}

// breakGeneration marks g broken and releases its waiters, unless the trip
// completed in the meantime. The barrier resets for the next trip either way.
func (r *rendezvous) breakGeneration(g *generation, format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-g.ch:
		// Trip already completed or broke while we raced for the lock
		if g.broken {
			return fmt.Errorf("another participant broke the barrier: %w", util.ErrBarrierBroken)
		}
		return nil
	default:
	}

	g.broken = true
	close(g.ch)
	r.waiting = 0
	r.gen = &generation{ch: make(chan struct{})}

	return fmt.Errorf(format+": %w", append(args, util.ErrBarrierBroken)...)
}

// abort permanently closes the barrier, failing current and future waiters
func (r *rendezvous) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	select {
	case <-r.gen.ch:
	default:
		r.gen.broken = true
		close(r.gen.ch)
	}
	r.waiting = 0
}

// Manager owns the barriers for one run. Until Setup is called (and again
// after Cleanup) it is in passthrough mode where every wait succeeds
// immediately, which is the behavior non-synchronized strategies rely on.
type Manager struct {
	mu       sync.RWMutex
	barriers map[Point]*rendezvous
	parties  int
	logger   *slog.Logger
}

// NewManager creates a manager in passthrough mode
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		barriers: make(map[Point]*rendezvous),
		logger:   logger,
	}
}

// Setup allocates one reusable barrier per sync point for the given
// participant count, replacing and aborting any barriers from a previous
// run. With no points given, all five lifecycle points are configured.
func (m *Manager) Setup(parties int, points ...Point) error {
	if parties <= 0 {
		return fmt.Errorf("barrier participant count must be positive, got %d: %w",
			parties, util.ErrInvalidConfig)
	}
	if len(points) == 0 {
		points = AllPoints()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.barriers {
		r.abort()
	}
	m.barriers = make(map[Point]*rendezvous, len(points))
	for _, p := range points {
		m.barriers[p] = newRendezvous(parties)
	}
	m.parties = parties

	m.logger.Debug("barriers configured",
		"participants", parties,
		"points", len(points))
	return nil
}

// Parties returns the configured participant count, zero in passthrough mode
func (m *Manager) Parties() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parties
}

// WaitAt blocks the labelled participant at the given sync point until all
// participants arrive. Waits at unconfigured points succeed immediately. A
// timeout or abort breaks the barrier for every waiter; the failure is
// reported, never panicked.
func (m *Manager) WaitAt(ctx context.Context, point Point, label string, timeout time.Duration) error {
	m.mu.RLock()
	r, ok := m.barriers[point]
	m.mu.RUnlock()

	if !ok {
		return nil
	}

	m.logger.Debug("waiting at sync point",
		"point", point,
		"participant", label)

	if err := r.await(ctx, timeout); err != nil {
		m.logger.Warn("sync point broken",
			"point", point,
			"participant", label,
			"error", err)
		return fmt.Errorf("sync point %q: %w", point, err)
	}
	return nil
}

// Cleanup aborts every outstanding barrier, unblocking all waiters with a
// failure, and returns the manager to passthrough mode
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.barriers {
		r.abort()
	}
	m.barriers = make(map[Point]*rendezvous)
	m.parties = 0

	m.logger.Debug("barriers cleaned up")
}
