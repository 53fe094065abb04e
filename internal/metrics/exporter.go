// Package metrics exports engine observability snapshots and run outcomes
// as Prometheus collectors. The exporter records per-window results and stop
// episodes as they happen; the snapshot poller periodically mirrors the
// engine's pull-based stats into gauges.
package metrics

import (
	"errors"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/xiaomingjie/multiwin/internal/executor"
	"github.com/xiaomingjie/multiwin/internal/stop"
)

const defaultNamespace = "multiwin"

// ExporterOptions controls collector configuration
type ExporterOptions struct {
	DurationBuckets []float64
}

// Exporter adapts run outcomes to Prometheus collectors
type Exporter struct {
	executionsTotal          *prom.CounterVec
	executionDurationSeconds prom.Histogram
	retriesTotal             prom.Counter
	stopEpisodesTotal        *prom.CounterVec
	stopWindowsTotal         *prom.CounterVec
}

// NewExporter creates and registers Prometheus collectors for run outcomes
func NewExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	executionsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Total number of window executions by terminal status.",
	}, []string{"status"})
	durationHist := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Window workflow execution duration in seconds.",
		Buckets:   buckets,
	})
	retriesCounter := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Total number of retry attempts consumed by window executions.",
	})
	stopEpisodesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stop_episodes_total",
		Help:      "Total number of stop episodes by outcome.",
	}, []string{"outcome"})
	stopWindowsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stop_windows_total",
		Help:      "Total number of windows processed by stop episodes, by result.",
	}, []string{"result"})

	var err error
	if executionsVec, err = registerCollector(reg, executionsVec); err != nil {
		return nil, err
	}
	if durationHist, err = registerCollector(reg, durationHist); err != nil {
		return nil, err
	}
	if retriesCounter, err = registerCollector(reg, retriesCounter); err != nil {
		return nil, err
	}
	if stopEpisodesVec, err = registerCollector(reg, stopEpisodesVec); err != nil {
		return nil, err
	}
	if stopWindowsVec, err = registerCollector(reg, stopWindowsVec); err != nil {
		return nil, err
	}

	return &Exporter{
		executionsTotal:          executionsVec,
		executionDurationSeconds: durationHist,
		retriesTotal:             retriesCounter,
		stopEpisodesTotal:        stopEpisodesVec,
		stopWindowsTotal:         stopWindowsVec,
	}, nil
}

// ObserveResult records one window's terminal result
func (e *Exporter) ObserveResult(r executor.Result) {
	if e == nil {
		return
	}
	e.executionsTotal.WithLabelValues(string(r.Status)).Inc()
	if r.Duration > 0 {
		e.executionDurationSeconds.Observe(r.Duration.Seconds())
	}
	if r.Attempts > 0 {
		e.retriesTotal.Add(float64(r.Attempts))
	}
}

// ObserveStopReport records one pool-wide stop episode
func (e *Exporter) ObserveStopReport(report stop.Report) {
	if e == nil {
		return
	}
	outcome := "success"
	if !report.Success {
		outcome = "degraded"
	}
	e.stopEpisodesTotal.WithLabelValues(outcome).Inc()
	e.stopWindowsTotal.WithLabelValues("stopped").Add(float64(report.Succeeded))
	e.stopWindowsTotal.WithLabelValues("forced").Add(float64(report.Forced))
	e.stopWindowsTotal.WithLabelValues("failed").Add(float64(report.Failed))
}

// EventSource is the callback registry surface the exporter subscribes to.
// *engine.Events satisfies it.
type EventSource interface {
	OnWindowCompleted(fn func(executor.Result))
	OnStopReport(fn func(stop.Report))
}

// Attach subscribes the exporter to an engine's event callbacks
func (e *Exporter) Attach(events EventSource) {
	if e == nil || events == nil {
		return
	}
	events.OnWindowCompleted(e.ObserveResult)
	events.OnStopReport(e.ObserveStopReport)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
