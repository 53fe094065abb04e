package metrics

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/xiaomingjie/multiwin/internal/breaker"
	"github.com/xiaomingjie/multiwin/internal/engine"
	"github.com/xiaomingjie/multiwin/internal/pool"
	"github.com/xiaomingjie/multiwin/internal/servicepool"
)

// StatusProvider exposes the engine's pull-based observability surface.
// *engine.Engine satisfies it.
type StatusProvider interface {
	Stats() engine.PerformanceStats
	PoolStats() []pool.Stats
	ServiceStatus() servicepool.Status
	BreakerStats() []breaker.Stats
}

// SnapshotPoller periodically mirrors engine status snapshots into
// Prometheus gauges
type SnapshotPoller struct {
	interval time.Duration
	provider StatusProvider

	poolInUse    *prom.GaugeVec
	poolCapacity *prom.GaugeVec

	serviceCurrent prom.Gauge
	serviceActive  prom.Gauge
	serviceMax     prom.Gauge

	breakerState *prom.GaugeVec

	queueDepth      prom.Gauge
	activeResources prom.Gauge

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors
func NewSnapshotPoller(namespace string, reg prom.Registerer, provider StatusProvider, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	poolInUse := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_in_use",
		Help:      "Resource permits currently held per pool.",
	}, []string{"pool"})
	poolCapacity := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_capacity",
		Help:      "Resource permit capacity per pool.",
	}, []string{"pool"})
	serviceCurrent := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "service_instances",
		Help:      "Shared service instances currently in the pool.",
	})
	serviceActive := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "service_instances_active",
		Help:      "Shared service instances currently active.",
	})
	serviceMax := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "service_instances_max",
		Help:      "Shared service instance cap.",
	})
	breakerState := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
	}, []string{"key"})
	queueDepth := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Windows waiting in the streaming queue.",
	})
	activeResources := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "active_resources",
		Help:      "Resource permits currently held across all pools.",
	})

	var err error
	if poolInUse, err = registerCollector(reg, poolInUse); err != nil {
		return nil, err
	}
	if poolCapacity, err = registerCollector(reg, poolCapacity); err != nil {
		return nil, err
	}
	if serviceCurrent, err = registerCollector(reg, serviceCurrent); err != nil {
		return nil, err
	}
	if serviceActive, err = registerCollector(reg, serviceActive); err != nil {
		return nil, err
	}
	if serviceMax, err = registerCollector(reg, serviceMax); err != nil {
		return nil, err
	}
	if breakerState, err = registerCollector(reg, breakerState); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if activeResources, err = registerCollector(reg, activeResources); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:        interval,
		provider:        provider,
		poolInUse:       poolInUse,
		poolCapacity:    poolCapacity,
		serviceCurrent:  serviceCurrent,
		serviceActive:   serviceActive,
		serviceMax:      serviceMax,
		breakerState:    breakerState,
		queueDepth:      queueDepth,
		activeResources: activeResources,
	}, nil
}

// Start begins periodic polling; repeated calls are no-ops
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil || p.provider == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	for _, ps := range p.provider.PoolStats() {
		p.poolInUse.WithLabelValues(ps.Name).Set(float64(ps.InUse))
		p.poolCapacity.WithLabelValues(ps.Name).Set(float64(ps.Capacity))
	}

	status := p.provider.ServiceStatus()
	p.serviceCurrent.Set(float64(status.CurrentServices))
	p.serviceActive.Set(float64(status.ActiveServices))
	p.serviceMax.Set(float64(status.MaxServices))

	for _, bs := range p.provider.BreakerStats() {
		p.breakerState.WithLabelValues(bs.Name).Set(breakerStateValue(bs.State))
	}

	stats := p.provider.Stats()
	p.queueDepth.Set(float64(stats.QueueDepth))
	p.activeResources.Set(float64(stats.ActiveResources))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
