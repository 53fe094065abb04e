// Package servicepool multiplexes windows over a bounded set of shared
// backend service instances. Instances are created lazily, load-balanced by
// assignment count, and reclaimed when idle or empty.
package servicepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// Backend resource cost per service instance caps how large the pool may
// grow no matter what the configuration asks for.
const (
	HardMaxServices          = 10
	HardMaxWindowsPerService = 3
)

// Config holds shared-service pool tuning
type Config struct {
	// MaxServices is the instance cap, hard-limited to 10
	MaxServices int `json:"maxServices" yaml:"maxServices"`

	// MaxWindowsPerService is the assignment cap per instance, hard-limited to 3
	MaxWindowsPerService int `json:"maxWindowsPerService" yaml:"maxWindowsPerService"`

	// ServiceTimeout evicts instances unused for longer than this
	ServiceTimeout time.Duration `json:"serviceTimeout" yaml:"serviceTimeout"`

	// SweepInterval is how often idle reclamation runs
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

// DefaultConfig returns the standard pool tuning
func DefaultConfig() Config {
	return Config{
		MaxServices:          HardMaxServices,
		MaxWindowsPerService: HardMaxWindowsPerService,
		ServiceTimeout:       600 * time.Second,
		SweepInterval:        30 * time.Second,
	}
}

func (c Config) clamped(logger *slog.Logger) Config {
	d := DefaultConfig()
	if c.MaxServices <= 0 {
		c.MaxServices = d.MaxServices
	}
	if c.MaxServices > HardMaxServices {
		logger.Warn("maxServices above hard cap, clamping",
			"requested", c.MaxServices,
			"cap", HardMaxServices)
		c.MaxServices = HardMaxServices
	}
	if c.MaxWindowsPerService <= 0 {
		c.MaxWindowsPerService = d.MaxWindowsPerService
	}
	if c.MaxWindowsPerService > HardMaxWindowsPerService {
		logger.Warn("maxWindowsPerService above hard cap, clamping",
			"requested", c.MaxWindowsPerService,
			"cap", HardMaxWindowsPerService)
		c.MaxWindowsPerService = HardMaxWindowsPerService
	}
	if c.ServiceTimeout <= 0 {
		c.ServiceTimeout = d.ServiceTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// instance is one shared service and its assignment state. The pool lock
// guards all fields; callMu additionally serializes recognition calls so a
// graceful teardown can wait for the in-flight call to drain.
type instance struct {
	id       string
	engine   RecognitionEngine
	active   bool
	assigned map[string]string // windowID -> title
	lastUsed time.Time

	totalRequests   uint64
	totalProcessing time.Duration

	callMu sync.Mutex
}

// Status is the caller-visible pool summary
type Status struct {
	PoolAvailable   bool `json:"poolAvailable" yaml:"poolAvailable"`
	MaxServices     int  `json:"maxServices" yaml:"maxServices"`
	CurrentServices int  `json:"currentServices" yaml:"currentServices"`
	ActiveServices  int  `json:"activeServices" yaml:"activeServices"`
}

// InstanceStats is a point-in-time snapshot of one service instance
type InstanceStats struct {
	ServiceID       string            `json:"serviceId" yaml:"serviceId"`
	Active          bool              `json:"active" yaml:"active"`
	AssignedWindows map[string]string `json:"assignedWindows" yaml:"assignedWindows"`
	LastUsed        time.Time         `json:"lastUsed" yaml:"lastUsed"`
	TotalRequests   uint64            `json:"totalRequests" yaml:"totalRequests"`
	AvgProcessing   time.Duration     `json:"avgProcessing" yaml:"avgProcessing"`
}

// Pool assigns windows to shared service instances. The window index and the
// per-instance assignment sets are always mutated together under the pool
// lock, so they can never disagree.
type Pool struct {
	cfg     Config
	factory EngineFactory
	logger  *slog.Logger

	mu          sync.Mutex
	services    map[string]*instance
	order       []string          // creation order, ties broken by first found
	windowIndex map[string]string // windowID -> serviceID
	closed      bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a shared-service pool. The factory builds the backend engine
// for each new instance.
func New(cfg Config, factory EngineFactory, logger *slog.Logger) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required: %w", util.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		cfg:         cfg.clamped(logger),
		factory:     factory,
		logger:      logger,
		services:    make(map[string]*instance),
		windowIndex: make(map[string]string),
	}, nil
}

// AssignWindow maps a window to a service instance: the existing one if the
// window is already assigned, else the least-loaded active instance with
// spare capacity, else a newly created instance. Fails with
// ErrPoolExhausted when the pool can take no more.
func (p *Pool) AssignWindow(ctx context.Context, windowID, title string) (string, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return "", fmt.Errorf("assign window %q: %w", windowID, util.ErrShutdown)
	}

	// Sticky assignment: an existing mapping to an active instance wins
	if sid, ok := p.windowIndex[windowID]; ok {
		if inst, ok := p.services[sid]; ok && inst.active {
			p.mu.Unlock()
			return sid, nil
		}
		// Stale mapping to a dead instance, fall through to reassign
		delete(p.windowIndex, windowID)
	}

	// Least-loaded active instance with spare capacity, first found wins ties
	var best *instance
	for _, sid := range p.order {
		inst := p.services[sid]
		if !inst.active || len(inst.assigned) >= p.cfg.MaxWindowsPerService {
			continue
		}
		if best == nil || len(inst.assigned) < len(best.assigned) {
			best = inst
		}
	}
	if best != nil {
		best.assigned[windowID] = title
		p.windowIndex[windowID] = best.id
		p.mu.Unlock()

		p.logger.Debug("window assigned to existing service",
			"window", windowID,
			"service", best.id,
			"load", len(best.assigned))
		return best.id, nil
	}

	if len(p.services) >= p.cfg.MaxServices {
		p.mu.Unlock()
		return "", fmt.Errorf("no service capacity for window %q (%d/%d instances full): %w",
			windowID, len(p.services), p.cfg.MaxServices, util.ErrPoolExhausted)
	}

	// Reserve an inactive placeholder so the slot survives unlocking for
	// the potentially slow engine initialization
	sid := "svc-" + uuid.NewString()[:8]
	inst := &instance{
		id:       sid,
		engine:   p.factory(sid),
		assigned: map[string]string{windowID: title},
		lastUsed: time.Now(),
	}
	p.services[sid] = inst
	p.order = append(p.order, sid)
	p.windowIndex[windowID] = sid
	p.mu.Unlock()

	if err := inst.engine.Initialize(ctx); err != nil {
		p.mu.Lock()
		delete(p.windowIndex, windowID)
		p.removeLocked(sid)
		p.mu.Unlock()
		return "", fmt.Errorf("initialize service for window %q: %w", windowID, err)
	}

	p.mu.Lock()
	inst.active = true
	p.mu.Unlock()

	p.logger.Info("created service instance",
		"service", sid,
		"window", windowID)
	return sid, nil
}

// ReleaseWindow removes a window's assignment. Releasing an unassigned
// window is a no-op. An instance left with no assignments is torn down.
func (p *Pool) ReleaseWindow(ctx context.Context, windowID string) {
	p.mu.Lock()

	sid, ok := p.windowIndex[windowID]
	if !ok {
		p.mu.Unlock()
		p.logger.Debug("release of unassigned window", "window", windowID)
		return
	}
	delete(p.windowIndex, windowID)

	inst, ok := p.services[sid]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(inst.assigned, windowID)

	if len(inst.assigned) > 0 {
		p.mu.Unlock()
		p.logger.Debug("window released",
			"window", windowID,
			"service", sid,
			"load", len(inst.assigned))
		return
	}

	// Last occupant gone, tear the instance down
	p.removeLocked(sid)
	p.mu.Unlock()

	p.logger.Info("tearing down empty service instance", "service", sid)
	inst.callMu.Lock()
	defer inst.callMu.Unlock()
	if err := inst.engine.Shutdown(ctx); err != nil {
		p.logger.Warn("service shutdown failed",
			"service", sid,
			"error", err)
	}
}

// Recognize routes a recognition call to the window's assigned instance,
// updating its usage counters. Calls on one instance run serially.
func (p *Pool) Recognize(ctx context.Context, windowID string, image []byte, confidenceThreshold float64) ([]Match, error) {
	p.mu.Lock()
	sid, ok := p.windowIndex[windowID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("window %q has no assigned service: %w",
			windowID, util.ErrWindowNotFound)
	}
	inst := p.services[sid]
	inst.lastUsed = time.Now()
	inst.totalRequests++
	p.mu.Unlock()

	inst.callMu.Lock()
	defer inst.callMu.Unlock()

	start := time.Now()
	matches, err := inst.engine.Recognize(ctx, image, confidenceThreshold)
	elapsed := time.Since(start)

	p.mu.Lock()
	inst.totalProcessing += elapsed
	inst.lastUsed = time.Now()
	p.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("recognize on service %q: %w", sid, err)
	}
	return matches, nil
}

// AssignedService returns the service a window currently maps to
func (p *Pool) AssignedService(windowID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sid, ok := p.windowIndex[windowID]
	return sid, ok
}

// ServiceIDs returns all instance IDs in creation order
func (p *Pool) ServiceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// GetStatus returns the caller-visible pool summary
func (p *Pool) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	spare := false
	for _, inst := range p.services {
		if !inst.active {
			continue
		}
		active++
		if len(inst.assigned) < p.cfg.MaxWindowsPerService {
			spare = true
		}
	}

	return Status{
		PoolAvailable:   !p.closed && (spare || len(p.services) < p.cfg.MaxServices),
		MaxServices:     p.cfg.MaxServices,
		CurrentServices: len(p.services),
		ActiveServices:  active,
	}
}

// Stats returns per-instance snapshots in creation order
func (p *Pool) Stats() []InstanceStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]InstanceStats, 0, len(p.order))
	for _, sid := range p.order {
		inst := p.services[sid]

		assigned := make(map[string]string, len(inst.assigned))
		for w, t := range inst.assigned {
			assigned[w] = t
		}

		var avg time.Duration
		if inst.totalRequests > 0 {
			avg = inst.totalProcessing / time.Duration(inst.totalRequests)
		}

		out = append(out, InstanceStats{
			ServiceID:       sid,
			Active:          inst.active,
			AssignedWindows: assigned,
			LastUsed:        inst.lastUsed,
			TotalRequests:   inst.totalRequests,
			AvgProcessing:   avg,
		})
	}
	return out
}

// StopInstance gracefully shuts one instance down: its windows are unmapped
// immediately so no new calls route to it, then the engine shutdown waits
// for any in-flight call to drain.
func (p *Pool) StopInstance(ctx context.Context, serviceID string) error {
	p.mu.Lock()
	inst, ok := p.services[serviceID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.removeLocked(serviceID)
	p.mu.Unlock()

	// Wait for the call lock the way a drain should, but give up when the
	// caller's budget runs out
	acquired := make(chan struct{})
	go func() {
		inst.callMu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		return fmt.Errorf("service %q still busy: %w", serviceID, util.ErrTimeout)
	}
	defer inst.callMu.Unlock()

	if err := inst.engine.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown service %q: %w", serviceID, err)
	}

	p.logger.Info("service instance stopped", "service", serviceID)
	return nil
}

// EvictInstance forcibly removes an instance without waiting for in-flight
// calls. Reports whether the instance existed.
func (p *Pool) EvictInstance(serviceID string) bool {
	p.mu.Lock()
	inst, ok := p.services[serviceID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	windows := len(inst.assigned)
	p.removeLocked(serviceID)
	p.mu.Unlock()

	p.logger.Warn("forcibly evicting service instance",
		"service", serviceID,
		"assignedWindows", windows)

	// Hard cancel: the engine is told to shut down regardless of any
	// in-flight call
	go func() {
		if err := inst.engine.Shutdown(context.Background()); err != nil {
			p.logger.Warn("forced shutdown failed",
				"service", serviceID,
				"error", err)
		}
	}()
	return true
}

// Shutdown tears down every instance gracefully with bounded concurrency
// and closes the pool to further assignment
func (p *Pool) Shutdown(ctx context.Context) error {
	p.StopSweeper()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	p.mu.Unlock()

	var (
		errMu sync.Mutex
		merr  util.MultiError
	)

	g := &errgroup.Group{}
	g.SetLimit(HardMaxServices)
	for _, sid := range ids {
		g.Go(func() error {
			if err := p.StopInstance(ctx, sid); err != nil {
				errMu.Lock()
				merr.Add(err)
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	p.logger.Info("service pool shut down", "instances", len(ids))
	return merr.ErrorOrNil()
}

// removeLocked deletes an instance and all its window mappings; caller
// holds the pool lock
func (p *Pool) removeLocked(serviceID string) {
	inst, ok := p.services[serviceID]
	if !ok {
		return
	}
	for w := range inst.assigned {
		delete(p.windowIndex, w)
	}
	inst.assigned = make(map[string]string)
	inst.active = false
	delete(p.services, serviceID)
	for i, sid := range p.order {
		if sid == serviceID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
