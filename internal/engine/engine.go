// Package engine orchestrates concurrent workflow execution across a fleet
// of registered windows. It owns the window registry, the three capacity
// pools, the retry and circuit-breaker layer, the shared recognition
// services, and the stop protocol, and dispatches runs through one of six
// strategies resolved from the requested mode.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaomingjie/multiwin/internal/barrier"
	"github.com/xiaomingjie/multiwin/internal/breaker"
	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/pool"
	"github.com/xiaomingjie/multiwin/internal/servicepool"
	"github.com/xiaomingjie/multiwin/internal/stop"
	"github.com/xiaomingjie/multiwin/internal/util"
	"github.com/xiaomingjie/multiwin/internal/window"
)

const (
	defaultBatchSize      = 3
	defaultBatchTimeout   = 2 * time.Second
	defaultQueueSize      = 16
	defaultBarrierTimeout = 60 * time.Second
	defaultWindowSlots    = 10

	// defaultServiceSlots matches the shared pool's hard assignment
	// ceiling of ten services with three windows each
	defaultServiceSlots = 30

	defaultNetworkSlots = 5
)

// Options configures the engine. Zero values fall back to defaults.
type Options struct {
	// Logger receives engine diagnostics; nil means slog.Default()
	Logger *slog.Logger

	// Factory builds the workflow runner for each window run. Nil selects
	// the simulated runner wired to the shared recognition services.
	Factory executor.RunnerFactory

	// EngineFactory builds recognition engine instances for the shared
	// service pool. Nil selects the simulated engine.
	EngineFactory servicepool.EngineFactory

	// Mode is the execution mode used when Start is called with ModeAuto
	Mode Mode

	// ForceMode honors sequential and synchronized requests even when
	// more than one window is registered
	ForceMode bool

	// CompletionPolicy selects between waiting for every window and
	// stopping the rest once the first lands
	CompletionPolicy CompletionPolicy

	// StaggerDelay is the base launch offset added to every concurrent
	// window's per-index spacing
	StaggerDelay time.Duration

	// BatchSize bounds batch chunks and streaming batches
	BatchSize int

	// BatchTimeout closes a streaming batch that has not filled
	BatchTimeout time.Duration

	// QueueSize bounds the streaming admission queue and result stream
	QueueSize int

	// BarrierTimeout bounds each wait at a sync point
	BarrierTimeout time.Duration

	// StopTimeout is the budget handed to the stop protocol when the
	// engine stops windows on its own behalf
	StopTimeout time.Duration

	// WindowSlots, ServiceSlots, and NetworkSlots are the capacities of
	// the window-concurrency, shared-service, and network pools
	WindowSlots  int
	ServiceSlots int
	NetworkSlots int

	// Breaker, Retry, and ServicePool tune the embedded components; their
	// zero values take each component's defaults
	Breaker     breaker.Config
	Retry       breaker.RetryConfig
	ServicePool servicepool.Config
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.CompletionPolicy == "" {
		o.CompletionPolicy = WaitForAll
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = defaultBatchTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.BarrierTimeout <= 0 {
		o.BarrierTimeout = defaultBarrierTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = stop.DefaultTimeout
	}
	if o.WindowSlots <= 0 {
		o.WindowSlots = defaultWindowSlots
	}
	if o.ServiceSlots <= 0 {
		o.ServiceSlots = defaultServiceSlots
	}
	if o.NetworkSlots <= 0 {
		o.NetworkSlots = defaultNetworkSlots
	}
	return o
}

// runState tracks one dispatched run. completed and seen are guarded by
// Engine.mu.
type runState struct {
	strategy   Strategy
	total      int
	completed  int
	seen       map[string]bool
	cancel     context.CancelFunc
	done       chan struct{}
	stream     chan executor.Result
	queueDepth atomic.Int64
	stopOnce   sync.Once
}

// Engine is the multi-window orchestrator
type Engine struct {
	logger *slog.Logger
	opts   Options

	registry     *window.Registry
	windowSlots  *pool.ResourcePool
	serviceSlots *pool.ResourcePool
	networkSlots *pool.ResourcePool
	breakers     *breaker.Set
	retrier      *breaker.RetryExecutor
	barriers     *barrier.Manager
	services     *servicepool.Pool
	stopper      *stop.Protocol
	events       *Events
	factory      executor.RunnerFactory

	// baseCtx spans the engine lifetime; dispatched units descend from it
	// so run cancellation alone never kills them
	baseCtx  context.Context
	baseStop context.CancelFunc

	running atomic.Bool
	closed  atomic.Bool

	mu       sync.Mutex
	run      *runState
	last     []executor.Result
	counters counters
}

// New assembles an engine from its parts. Every component shares the
// engine's logger.
func New(opts Options) (*Engine, error) {
	o := opts.withDefaults()

	windowSlots, err := pool.New("windows", o.WindowSlots, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("window pool: %w", err)
	}
	serviceSlots, err := pool.New("services", o.ServiceSlots, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("service pool: %w", err)
	}
	networkSlots, err := pool.New("network", o.NetworkSlots, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("network pool: %w", err)
	}

	engineFactory := o.EngineFactory
	if engineFactory == nil {
		engineFactory = servicepool.SimulatedFactory(o.Logger)
	}
	services, err := servicepool.New(o.ServicePool, engineFactory, o.Logger)
	if err != nil {
		return nil, fmt.Errorf("shared services: %w", err)
	}

	breakers := breaker.NewSet(o.Breaker, o.Logger)
	baseCtx, baseStop := context.WithCancel(context.Background())

	e := &Engine{
		logger:       o.Logger,
		opts:         o,
		registry:     window.NewRegistry(o.Logger),
		windowSlots:  windowSlots,
		serviceSlots: serviceSlots,
		networkSlots: networkSlots,
		breakers:     breakers,
		retrier:      breaker.NewRetryExecutor(o.Retry, breakers, o.Logger),
		barriers:     barrier.NewManager(o.Logger),
		services:     services,
		stopper:      stop.New(o.Logger),
		events:       newEvents(),
		baseCtx:      baseCtx,
		baseStop:     baseStop,
	}
	e.factory = o.Factory
	if e.factory == nil {
		e.factory = executor.NewSimulatedFactory(e.Recognizer(), o.Logger)
	}

	e.services.StartSweeper(baseCtx)
	return e, nil
}

// RegisterWindow upserts an execution target keyed by title and handle and
// returns its task id. Registering an existing pair updates its enabled
// flag in place.
func (e *Engine) RegisterWindow(title string, handle window.Handle, enabled bool) string {
	return e.registry.Register(title, handle, enabled)
}

// RemoveWindow drops a window from the registry
func (e *Engine) RemoveWindow(id string) error {
	return e.registry.Remove(id)
}

// SetWindowEnabled flips a window's participation in future runs
func (e *Engine) SetWindowEnabled(id string, enabled bool) error {
	return e.registry.SetEnabled(id, enabled)
}

// Windows lists every registered window task
func (e *Engine) Windows() []window.Task {
	return e.registry.List()
}

// Window returns one window task by id
func (e *Engine) Window(id string) (window.Task, error) {
	return e.registry.Get(id)
}

// Events returns the observer registry for engine notifications
func (e *Engine) Events() *Events {
	return e.events
}

// Recognizer returns the recognition surface workflow runners should use:
// calls are admitted through the network pool and routed to the window's
// assigned shared service.
func (e *Engine) Recognizer() executor.Recognizer {
	return gatedRecognizer{slots: e.networkSlots, pool: e.services}
}

// IsRunning reports whether a run is currently dispatched
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Strategy returns the dispatch plan of the current or most recent run
func (e *Engine) Strategy() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return ""
	}
	return e.run.strategy
}

// Start dispatches one run over every enabled window. It returns false
// without side effects when a run is already active, the engine is shut
// down, or no window is enabled. Dispatch is asynchronous: use Wait, the
// event callbacks, or Stream to observe completion.
func (e *Engine) Start(spec executor.Spec, mode Mode) bool {
	if e.closed.Load() {
		e.logger.Warn("start rejected, engine is shut down")
		return false
	}
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("start rejected, execution already running")
		return false
	}

	e.registry.ResetEnabled()
	targets := e.registry.Enabled()
	if len(targets) == 0 {
		e.running.Store(false)
		e.logger.Warn("start rejected, no enabled windows")
		return false
	}

	requested := mode
	if requested == "" || requested == ModeAuto {
		requested = e.opts.Mode
	}
	strategy, demoted := resolveStrategy(e.registry.Count(), len(targets), requested, e.opts.ForceMode)
	if demoted {
		e.logger.Warn("requested mode demoted to parallel",
			"mode", string(requested), "registered", e.registry.Count())
	}
	if strategy == StrategyBatch && requested != ModeBatch {
		e.logger.Info("large fleet, batch dispatch selected", "windows", len(targets))
	}
	if strategy == StrategySynchronized && len(targets) > e.windowSlots.Capacity() {
		e.logger.Warn("not enough window slots for a lockstep run, falling back to parallel",
			"windows", len(targets), "slots", e.windowSlots.Capacity())
		strategy = StrategyParallel
	}

	runCtx, cancel := context.WithCancel(e.baseCtx)
	rs := &runState{
		strategy: strategy,
		total:    len(targets),
		seen:     make(map[string]bool, len(targets)),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if strategy == StrategyStreaming {
		rs.stream = make(chan executor.Result, e.opts.QueueSize)
	}
	e.mu.Lock()
	e.run = rs
	e.mu.Unlock()

	e.logger.Info("execution starting",
		"strategy", string(strategy),
		"windows", len(targets),
		"workflow", spec.Name)
	go e.dispatch(runCtx, rs, targets, spec)
	return true
}

// Wait blocks until the active run completes or ctx ends, returning the
// final ordered results
func (e *Engine) Wait(ctx context.Context) ([]executor.Result, error) {
	e.mu.Lock()
	rs := e.run
	e.mu.Unlock()
	if rs == nil {
		return e.Results(), nil
	}
	select {
	case <-rs.done:
		return e.Results(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for run: %w", ctx.Err())
	}
}

// Results returns a copy of the last completed run's results
func (e *Engine) Results() []executor.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]executor.Result, len(e.last))
	copy(out, e.last)
	return out
}

// Stream returns the live result stream of a streaming run, nil for other
// strategies. The caller must drain it: the dispatcher applies
// backpressure once the buffer fills.
func (e *Engine) Stream() <-chan executor.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.run.stream
}

// StopAll runs the five-phase stop protocol over every bound execution
// unit and reports overall success. New work stops spawning immediately;
// in-flight windows go through graceful then forced termination.
func (e *Engine) StopAll(timeout time.Duration) bool {
	e.mu.Lock()
	rs := e.run
	e.mu.Unlock()
	if rs != nil {
		rs.cancel()
	}

	report := e.stopper.StopAll(e.registry.Units(), e.services, timeout)
	e.events.emitStopReport(report)
	e.logger.Info("stop protocol finished",
		"success", report.Success, "message", report.Message)
	return report.Success
}

// StopWindow stops one window's execution unit through the same
// request, graceful, forced ladder
func (e *Engine) StopWindow(id string, timeout time.Duration) bool {
	unit := e.registry.Units()[id]
	report := e.stopper.StopWindow(id, unit, e.services, timeout)
	return report.Success
}

// RegisterCleanup adds a named callback to the stop protocol's resource
// release phase
func (e *Engine) RegisterCleanup(name string, fn stop.CleanupFunc) {
	e.stopper.RegisterCleanup(name, fn)
}

// Stats reports engine throughput and live resource usage
func (e *Engine) Stats() PerformanceStats {
	e.mu.Lock()
	s := PerformanceStats{
		TotalWindows:     e.counters.total,
		Successful:       e.counters.successful,
		Failed:           e.counters.failed,
		AvgExecutionTime: e.counters.avg(),
	}
	rs := e.run
	e.mu.Unlock()

	s.ActiveResources = e.windowSlots.InUse() + e.serviceSlots.InUse() + e.networkSlots.InUse()
	if rs != nil {
		s.QueueDepth = int(rs.queueDepth.Load())
	}
	return s
}

// ServiceStatus reports shared recognition pool occupancy
func (e *Engine) ServiceStatus() servicepool.Status {
	return e.services.GetStatus()
}

// ServiceStats reports per-instance assignment and usage counters
func (e *Engine) ServiceStats() []servicepool.InstanceStats {
	return e.services.Stats()
}

// BreakerStats reports every circuit breaker created so far
func (e *Engine) BreakerStats() []breaker.Stats {
	return e.breakers.Snapshot()
}

// PoolStats reports the three capacity pools
func (e *Engine) PoolStats() []pool.Stats {
	return []pool.Stats{
		e.windowSlots.Snapshot(),
		e.serviceSlots.Snapshot(),
		e.networkSlots.Snapshot(),
	}
}

// StopSnapshots reports the per-window stop contexts of the most recent
// stop episode
func (e *Engine) StopSnapshots() []stop.Snapshot {
	return e.stopper.Snapshots()
}

// StatusCounts aggregates window statuses for display
func (e *Engine) StatusCounts() map[window.Status]int {
	return e.registry.StatusCounts()
}

// Reset clears run history, stop contexts, and window run state. Rejected
// while a run is active.
func (e *Engine) Reset() error {
	if e.running.Load() {
		return fmt.Errorf("cannot reset: %w", util.ErrAlreadyRunning)
	}
	e.mu.Lock()
	e.run = nil
	e.last = nil
	e.counters = counters{}
	e.mu.Unlock()
	e.stopper.Reset()
	e.registry.ResetEnabled()
	e.logger.Debug("engine reset")
	return nil
}

// Shutdown stops any active run, tears down the shared services, and
// releases engine resources. The engine cannot be started again afterward.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already shut down")
	}
	e.logger.Info("engine shutting down")

	if e.running.Load() {
		e.StopAll(e.opts.StopTimeout)
	}

	var waitErr error
	e.mu.Lock()
	rs := e.run
	e.mu.Unlock()
	if rs != nil {
		rs.cancel()
		select {
		case <-rs.done:
		case <-ctx.Done():
			waitErr = fmt.Errorf("shutdown wait: %w", ctx.Err())
		}
	}

	e.services.StopSweeper()
	svcErr := e.services.Shutdown(ctx)
	e.barriers.Cleanup()
	e.baseStop()
	return util.CombineErrors(waitErr, svcErr)
}
