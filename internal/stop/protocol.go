package stop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaomingjie/multiwin/internal/window"
)

const (
	// DefaultTimeout bounds a stop episode when the caller passes none
	DefaultTimeout = 30 * time.Second

	// gracefulShare is the fraction of the budget spent on phase 2
	gracefulShare = 0.7

	// stopFanOut bounds concurrent stop attempts within a phase
	stopFanOut = 10

	// minSlice is the smallest wait any participant is granted
	minSlice = 50 * time.Millisecond

	// releaseGrace bounds the pool-cleanup phase
	releaseGrace = 5 * time.Second
)

// ServicePool is the surface of the shared recognition pool that the
// protocol drives during shutdown. *servicepool.Pool satisfies it.
type ServicePool interface {
	ServiceIDs() []string
	StopInstance(ctx context.Context, serviceID string) error
	EvictInstance(serviceID string) bool
	ReleaseWindow(ctx context.Context, windowID string)
}

// CleanupFunc releases one resource during phase 5. Failures are logged
// and never abort the remaining callbacks.
type CleanupFunc func(ctx context.Context) error

type cleanup struct {
	name string
	fn   CleanupFunc
}

// Report is the terminal outcome of a stop episode
type Report struct {
	// Success is true when no window ended in the Error state
	Success bool

	// Message is a human-readable summary
	Message string

	// Total is the number of windows the episode covered
	Total int

	// Succeeded counts windows that stopped gracefully
	Succeeded int

	// Forced counts windows that needed forced termination
	Forced int

	// Failed counts windows that ended in the Error state
	Failed int

	// Elapsed is how long the episode ran
	Elapsed time.Duration
}

// Protocol coordinates stop episodes across window units and the shared
// service pool. One pool-wide episode runs at a time.
type Protocol struct {
	logger *slog.Logger

	inProgress atomic.Bool

	mu       sync.Mutex
	contexts map[string]*Context
	cleanups []cleanup
}

// New creates a stop protocol coordinator
func New(logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}

	return &Protocol{
		logger:   logger,
		contexts: make(map[string]*Context),
	}
}

// RegisterCleanup adds a named callback to run during phase 5 of every
// pool-wide episode
func (p *Protocol) RegisterCleanup(name string, fn CleanupFunc) {
	if fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups = append(p.cleanups, cleanup{name: name, fn: fn})
}

// InProgress reports whether a pool-wide episode is currently running
func (p *Protocol) InProgress() bool {
	return p.inProgress.Load()
}

// Snapshots returns the stop contexts of the current or most recent
// episode, ordered by window ID
func (p *Protocol) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Snapshot, 0, len(p.contexts))
	for _, c := range p.contexts {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowID < out[j].WindowID })
	return out
}

// Reset clears the contexts of the previous episode. Callers reset only
// between episodes, never while one is running.
func (p *Protocol) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = make(map[string]*Context)
}

// StopAll runs the five-phase stop sequence over every given unit and the
// service pool. It always returns a report within roughly the timeout: if
// the phases overrun, a supervising timer force-marks the stragglers and
// publishes a degraded report instead of hanging.
func (p *Protocol) StopAll(units map[string]window.Stoppable, pool ServicePool, timeout time.Duration) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if !p.inProgress.CompareAndSwap(false, true) {
		p.logger.Warn("stop already in progress")
		return Report{Success: false, Message: "stop already in progress"}
	}

	start := time.Now()
	p.beginEpisode(units)

	p.logger.Info("stop protocol starting",
		"windows", len(units),
		"timeout", timeout)

	resultCh := make(chan Report, 1)
	go func() {
		p.runPhases(units, pool, timeout, start)
		resultCh <- p.finalize(start, "")
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		return r
	case <-timer.C:
		// Supervising timer fired. Force-mark whatever is not terminal
		// and report now; the background phases reset the flag when they
		// eventually unwind.
		p.forceMarkNonTerminal("stop timeout exceeded")
		r := p.buildReport(start, "stop timed out")
		p.logger.Warn("stop protocol timed out", "elapsed", time.Since(start), "report", r.Message)
		go func() { <-resultCh }()
		return r
	}
}

// StopWindow stops a single window: request, graceful wait, forced
// termination, then pool cleanup for just that window.
func (p *Protocol) StopWindow(windowID string, unit window.Stoppable, pool ServicePool, timeout time.Duration) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if unit == nil {
		return Report{
			Success: false,
			Message: fmt.Sprintf("window %s has no running unit", windowID),
		}
	}

	if p.inProgress.Load() {
		return Report{Success: false, Message: "stop already in progress"}
	}

	start := time.Now()
	c := newContext(windowID)

	p.mu.Lock()
	p.contexts[windowID] = c
	p.mu.Unlock()

	p.logger.Info("stopping window", "window", windowID, "timeout", timeout)

	c.advance(StateStopRequested)
	unit.RequestStop()

	c.advance(StateStopping)
	grace := time.Duration(float64(timeout) * gracefulShare)
	if unit.Join(grace) {
		c.finish(StateStopped, "")
	} else {
		unit.Kill()
		remaining := timeout - time.Since(start)
		if remaining < minSlice {
			remaining = minSlice
		}
		if !unit.IsAlive() || unit.Join(remaining) {
			c.finish(StateForceStopped, "")
			p.logger.Warn("window force-stopped", "window", windowID)
		} else {
			c.finish(StateError, "execution unit survived forced termination")
			p.logger.Error("window stop failed", "window", windowID)
		}
	}

	if pool != nil {
		relCtx, cancel := context.WithTimeout(context.Background(), releaseGrace)
		pool.ReleaseWindow(relCtx, windowID)
		cancel()
	}

	r := Report{Total: 1, Elapsed: time.Since(start)}
	switch c.State() {
	case StateStopped:
		r.Succeeded = 1
	case StateForceStopped:
		r.Forced = 1
	default:
		r.Failed = 1
	}
	r.Success = r.Failed == 0
	r.Message = fmt.Sprintf("window %s: %s", windowID, c.State())
	return r
}

// beginEpisode replaces the context set with fresh Running contexts
func (p *Protocol) beginEpisode(units map[string]window.Stoppable) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.contexts = make(map[string]*Context, len(units))
	for id := range units {
		p.contexts[id] = newContext(id)
	}
}

func (p *Protocol) context(id string) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contexts[id]
}

func (p *Protocol) runPhases(units map[string]window.Stoppable, pool ServicePool, timeout time.Duration, start time.Time) {
	p.phaseRequest(units)
	stubbornUnits, stubbornServices := p.phaseGraceful(units, pool, timeout)
	p.phaseForced(stubbornUnits, stubbornServices, pool, timeout, start)
	p.phaseRelease(units, pool)
	p.phaseCleanups(timeout)
}

// phaseRequest transitions every window to StopRequested and asks its
// unit to stop cooperatively
func (p *Protocol) phaseRequest(units map[string]window.Stoppable) {
	for id, unit := range units {
		if c := p.context(id); c != nil {
			c.advance(StateStopRequested)
		}
		unit.RequestStop()
		p.logger.Debug("stop requested", "window", id)
	}
}

// phaseGraceful waits for cooperative completion of every unit and every
// service instance, each under an equal slice of 70% of the budget.
// Returns the units and services that did not stop in time.
func (p *Protocol) phaseGraceful(units map[string]window.Stoppable, pool ServicePool, timeout time.Duration) (map[string]window.Stoppable, []string) {
	var serviceIDs []string
	if pool != nil {
		serviceIDs = pool.ServiceIDs()
	}

	participants := len(units) + len(serviceIDs)
	if participants == 0 {
		return nil, nil
	}

	budget := time.Duration(float64(timeout) * gracefulShare)
	slice := budget / time.Duration(participants)
	if slice < minSlice {
		slice = minSlice
	}

	p.logger.Debug("graceful stop phase",
		"units", len(units),
		"services", len(serviceIDs),
		"slice", slice)

	var mu sync.Mutex
	stubbornUnits := make(map[string]window.Stoppable)
	var stubbornServices []string

	var g errgroup.Group
	g.SetLimit(stopFanOut)

	for id, unit := range units {
		g.Go(func() error {
			c := p.context(id)
			if c != nil {
				c.advance(StateStopping)
			}

			if unit.Join(slice) {
				if c != nil {
					c.finish(StateStopped, "")
				}
				p.logger.Debug("window stopped gracefully", "window", id)
				return nil
			}

			mu.Lock()
			stubbornUnits[id] = unit
			mu.Unlock()
			p.logger.Warn("window did not stop within its slice", "window", id, "slice", slice)
			return nil
		})
	}

	for _, sid := range serviceIDs {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), slice)
			defer cancel()

			if err := pool.StopInstance(ctx, sid); err != nil {
				mu.Lock()
				stubbornServices = append(stubbornServices, sid)
				mu.Unlock()
				p.logger.Warn("service did not stop gracefully", "service", sid, "error", err)
			} else {
				p.logger.Debug("service stopped gracefully", "service", sid)
			}
			return nil
		})
	}

	g.Wait()
	return stubbornUnits, stubbornServices
}

// phaseForced terminates whatever survived the graceful phase. Units are
// killed, services evicted. A unit that remains alive after the kill is
// the only way a window ends in the Error state.
func (p *Protocol) phaseForced(stubbornUnits map[string]window.Stoppable, stubbornServices []string, pool ServicePool, timeout time.Duration, start time.Time) {
	if len(stubbornUnits) == 0 && len(stubbornServices) == 0 {
		return
	}

	// Forced joins get half of what remains so the cleanup phases and
	// the final report still land inside the caller's budget
	remaining := (timeout - time.Since(start)) / 2
	if remaining < minSlice {
		remaining = minSlice
	}
	pending := len(stubbornUnits)
	if pending == 0 {
		pending = 1
	}
	grace := remaining / time.Duration(pending)
	if grace < minSlice {
		grace = minSlice
	}

	p.logger.Debug("forced stop phase",
		"units", len(stubbornUnits),
		"services", len(stubbornServices),
		"grace", grace)

	var g errgroup.Group
	g.SetLimit(stopFanOut)

	for id, unit := range stubbornUnits {
		g.Go(func() error {
			c := p.context(id)
			unit.Kill()

			if !unit.IsAlive() || unit.Join(grace) {
				if c != nil {
					c.finish(StateForceStopped, "")
				}
				p.logger.Warn("window force-stopped", "window", id)
				return nil
			}

			msg := "execution unit survived forced termination"
			if c != nil {
				c.finish(StateError, msg)
			}
			p.logger.Error("window stop failed", "window", id, "error", msg)
			return nil
		})
	}

	for _, sid := range stubbornServices {
		g.Go(func() error {
			if pool != nil && pool.EvictInstance(sid) {
				p.logger.Warn("service force-evicted", "service", sid)
			}
			return nil
		})
	}

	g.Wait()
}

// phaseRelease clears the service-pool assignment of every processed
// window, regardless of how its stop went
func (p *Protocol) phaseRelease(units map[string]window.Stoppable, pool ServicePool) {
	if pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseGrace)
	defer cancel()

	for id := range units {
		pool.ReleaseWindow(ctx, id)
	}
}

// phaseCleanups runs the registered cleanup callbacks in parallel
func (p *Protocol) phaseCleanups(timeout time.Duration) {
	p.mu.Lock()
	cleanups := make([]cleanup, len(p.cleanups))
	copy(cleanups, p.cleanups)
	p.mu.Unlock()

	if len(cleanups) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(stopFanOut)

	for _, cl := range cleanups {
		g.Go(func() error {
			if err := cl.fn(ctx); err != nil {
				p.logger.Warn("cleanup callback failed", "name", cl.name, "error", err)
			}
			return nil
		})
	}

	g.Wait()
}

// forceMarkNonTerminal pushes every unfinished window to ForceStopped.
// Used by the supervising timer when the phases overrun the budget.
func (p *Protocol) forceMarkNonTerminal(msg string) {
	p.mu.Lock()
	ctxs := make([]*Context, 0, len(p.contexts))
	for _, c := range p.contexts {
		ctxs = append(ctxs, c)
	}
	p.mu.Unlock()

	for _, c := range ctxs {
		if c.finish(StateForceStopped, msg) {
			p.logger.Warn("window force-marked by stop supervisor", "window", c.WindowID())
		}
	}
}

// finalize always runs at the end of an episode: it publishes the report
// and clears the in-progress flag
func (p *Protocol) finalize(start time.Time, note string) Report {
	defer p.inProgress.Store(false)

	r := p.buildReport(start, note)
	if r.Success {
		p.logger.Info("stop protocol completed", "report", r.Message, "elapsed", r.Elapsed)
	} else {
		p.logger.Warn("stop protocol completed with failures", "report", r.Message, "elapsed", r.Elapsed)
	}
	return r
}

// buildReport tallies terminal states into a report
func (p *Protocol) buildReport(start time.Time, note string) Report {
	p.mu.Lock()
	ctxs := make([]*Context, 0, len(p.contexts))
	for _, c := range p.contexts {
		ctxs = append(ctxs, c)
	}
	p.mu.Unlock()

	r := Report{Elapsed: time.Since(start)}
	for _, c := range ctxs {
		r.Total++
		switch c.State() {
		case StateStopped:
			r.Succeeded++
		case StateForceStopped:
			r.Forced++
		default:
			// Error, or still not terminal at report time
			r.Failed++
		}
	}

	r.Success = r.Failed == 0
	r.Message = fmt.Sprintf("stopped %d of %d window(s): %d graceful, %d forced, %d failed",
		r.Succeeded+r.Forced, r.Total, r.Succeeded, r.Forced, r.Failed)
	if note != "" {
		r.Message = note + "; " + r.Message
	}
	return r
}
