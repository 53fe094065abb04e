// Package breaker provides failure isolation for calls to flaky
// dependencies: a circuit breaker that fails fast while a dependency is
// down, and a retry executor with exponential backoff for transient errors.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// State is the circuit breaker state
type State int

const (
	// StateClosed lets calls through and counts consecutive failures
	StateClosed State = iota
	// StateOpen rejects calls until the recovery timeout elapses
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen
)

// String returns the human-readable state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker tuning
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the circuit
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`

	// RecoveryTimeout is how long the circuit stays open before probing
	RecoveryTimeout time.Duration `json:"recoveryTimeout" yaml:"recoveryTimeout"`

	// HalfOpenMaxCalls is the probe budget while half-open; exhausting it
	// without a success re-opens the circuit
	HalfOpenMaxCalls int `json:"halfOpenMaxCalls" yaml:"halfOpenMaxCalls"`
}

// DefaultConfig returns the standard breaker tuning
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Stats is a point-in-time snapshot of one breaker
type Stats struct {
	Name                string `json:"name" yaml:"name"`
	State               string `json:"state" yaml:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures" yaml:"consecutiveFailures"`
	TotalCalls          uint64 `json:"totalCalls" yaml:"totalCalls"`
	TotalFailures       uint64 `json:"totalFailures" yaml:"totalFailures"`
	TotalRejected       uint64 `json:"totalRejected" yaml:"totalRejected"`
}

// CircuitBreaker guards one named dependency. Consecutive failures open the
// circuit; after the recovery timeout a limited number of probes decide
// whether it closes again.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	halfOpenCalls       int
	totalCalls          uint64
	totalFailures       uint64
	totalRejected       uint64
}

// New creates a circuit breaker for the named dependency
func New(name string, cfg Config, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Execute runs fn under the breaker. While the circuit is open the call is
// rejected with ErrCircuitOpen without invoking fn.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current breaker state
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	// An elapsed recovery timeout reads as half-open even before the next
	// call performs the transition
	if b.state == StateOpen && time.Since(b.lastFailureAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns current breaker counters for status reporting
func (b *CircuitBreaker) Snapshot() Stats {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.name,
		State:               state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		TotalRejected:       b.totalRejected,
	}
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		remaining := b.cfg.RecoveryTimeout - time.Since(b.lastFailureAt)
		if remaining > 0 {
			b.totalRejected++
			return fmt.Errorf("breaker %q open for another %v: %w",
				b.name, remaining.Round(time.Millisecond), util.ErrCircuitOpen)
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 1
		b.logger.Info("circuit half-open, probing", "breaker", b.name)
		return nil

	case StateHalfOpen:
		// Exhausting the probe budget without a success re-opens the
		// circuit for a full recovery timeout
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.totalRejected++
			b.trip()
			return fmt.Errorf("breaker %q probe budget exhausted: %w",
				b.name, util.ErrCircuitOpen)
		}
		b.halfOpenCalls++
		return nil
	}

	return nil
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Cancellation says nothing about the dependency's health
	if err != nil && errors.Is(err, context.Canceled) {
		if b.state == StateHalfOpen && b.halfOpenCalls > 0 {
			b.halfOpenCalls--
		}
		return
	}

	switch b.state {
	case StateClosed:
		if err == nil {
			b.consecutiveFailures = 0
			return
		}
		b.totalFailures++
		b.consecutiveFailures++
		b.lastFailureAt = time.Now()
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip()
		}

	case StateHalfOpen:
		if err != nil {
			b.totalFailures++
			b.trip()
			return
		}
		// One successful probe is proof enough of recovery
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.halfOpenCalls = 0
		b.logger.Info("circuit closed, dependency recovered", "breaker", b.name)

	case StateOpen:
		// A probe that was in flight when the circuit re-opened lands
		// here; only the failure count matters now
		if err != nil {
			b.totalFailures++
		}
	}
}

// trip opens the circuit; caller holds the lock
func (b *CircuitBreaker) trip() {
	b.state = StateOpen
	b.lastFailureAt = time.Now()
	b.halfOpenCalls = 0
	b.logger.Warn("circuit opened",
		"breaker", b.name,
		"consecutiveFailures", b.consecutiveFailures,
		"recoveryTimeout", b.cfg.RecoveryTimeout)
}

// Set manages one breaker per named dependency, created lazily with a
// shared configuration
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	logger   *slog.Logger
}

// NewSet creates an empty breaker set
func NewSet(cfg Config, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Get returns the breaker for the named dependency, creating it on first use
func (s *Set) Get(name string) *CircuitBreaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = New(name, s.cfg, s.logger)
	s.breakers[name] = b
	return b
}

// Snapshot returns stats for every breaker in the set
func (s *Set) Snapshot() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stats, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
