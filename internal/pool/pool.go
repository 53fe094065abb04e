// Package pool provides a counting resource gate used to cap concurrent
// access to scarce resources such as window slots, shared service instances
// and network calls.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xiaomingjie/multiwin/internal/util"
)

// ResourcePool is a fixed-capacity counting gate. Acquire blocks until a
// slot is free or the context ends; Release returns a slot. Releasing more
// than was acquired is tolerated and logged instead of corrupting the count.
type ResourcePool struct {
	name     string
	capacity int64
	sem      *semaphore.Weighted
	logger   *slog.Logger

	mu   sync.Mutex
	held int64
}

// Stats is a point-in-time snapshot of pool utilization
type Stats struct {
	Name      string `json:"name" yaml:"name"`
	Capacity  int    `json:"capacity" yaml:"capacity"`
	InUse     int    `json:"inUse" yaml:"inUse"`
	Available int    `json:"available" yaml:"available"`
}

// New creates a resource pool with the given capacity
func New(name string, capacity int, logger *slog.Logger) (*ResourcePool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool %q capacity must be positive, got %d: %w",
			name, capacity, util.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ResourcePool{
		name:     name,
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
		logger:   logger,
	}, nil
}

// Acquire takes one slot, blocking until one is free or ctx is done
func (p *ResourcePool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("pool %q acquire: %w", p.name, err)
	}

	p.mu.Lock()
	p.held++
	p.mu.Unlock()
	return nil
}

// TryAcquire takes one slot without blocking and reports whether it succeeded
func (p *ResourcePool) TryAcquire() bool {
	if !p.sem.TryAcquire(1) {
		return false
	}

	p.mu.Lock()
	p.held++
	p.mu.Unlock()
	return true
}

// AcquireTimeout takes one slot, waiting at most timeout. A timeout surfaces
// as ErrNoCapacity so callers can tell exhaustion apart from cancellation.
func (p *ResourcePool) AcquireTimeout(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if waitCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("pool %q: no slot free within %v: %w",
				p.name, timeout, util.ErrNoCapacity)
		}
		return fmt.Errorf("pool %q acquire: %w", p.name, err)
	}

	p.mu.Lock()
	p.held++
	p.mu.Unlock()
	return nil
}

// Release returns one slot to the pool. A release without a matching acquire
// is dropped with a warning so the count can never exceed capacity.
func (p *ResourcePool) Release() {
	p.mu.Lock()
	if p.held == 0 {
		p.mu.Unlock()
		p.logger.Warn("release without matching acquire", "pool", p.name)
		return
	}
	p.held--
	p.mu.Unlock()

	p.sem.Release(1)
}

// With runs fn while holding one slot, releasing it when fn returns
func (p *ResourcePool) With(ctx context.Context, fn func() error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn()
}

// InUse returns the number of slots currently held
func (p *ResourcePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.held)
}

// Available returns the number of free slots
func (p *ResourcePool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.capacity - p.held)
}

// Capacity returns the configured slot count
func (p *ResourcePool) Capacity() int {
	return int(p.capacity)
}

// Name returns the pool's name
func (p *ResourcePool) Name() string {
	return p.name
}

// Snapshot returns current utilization for status reporting
func (p *ResourcePool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:      p.name,
		Capacity:  int(p.capacity),
		InUse:     int(p.held),
		Available: int(p.capacity - p.held),
	}
}
