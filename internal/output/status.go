package output

import (
	"time"

	"github.com/xiaomingjie/multiwin/internal/breaker"
	"github.com/xiaomingjie/multiwin/internal/engine"
	"github.com/xiaomingjie/multiwin/internal/pool"
	"github.com/xiaomingjie/multiwin/internal/servicepool"
	"github.com/xiaomingjie/multiwin/internal/window"
)

// WindowRow is the display shape of one registered window
type WindowRow struct {
	ID       string        `json:"id" yaml:"id"`
	Title    string        `json:"title" yaml:"title"`
	Handle   string        `json:"handle" yaml:"handle"`
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Status   string        `json:"status" yaml:"status"`
	Retries  int           `json:"retries" yaml:"retries"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// WindowRows converts registry tasks into display rows
func WindowRows(tasks []window.Task) []WindowRow {
	rows := make([]WindowRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, WindowRow{
			ID:       t.ID,
			Title:    t.Title,
			Handle:   t.Handle.String(),
			Enabled:  t.Enabled,
			Status:   string(t.Status),
			Retries:  t.RetryCount,
			Duration: t.Duration().Round(time.Millisecond),
			Error:    t.LastError,
		})
	}
	return rows
}

// StatusReport aggregates the engine's pull-based observability surface for
// one status render
type StatusReport struct {
	// Running reports whether a run is currently dispatched
	Running bool `json:"running" yaml:"running"`

	// Strategy is the dispatch plan of the current or last run
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// Stats is the engine throughput snapshot
	Stats engine.PerformanceStats `json:"stats" yaml:"stats"`

	// Services summarizes the shared recognition pool
	Services servicepool.Status `json:"services" yaml:"services"`

	// Instances lists per-service assignment and usage
	Instances []servicepool.InstanceStats `json:"instances,omitempty" yaml:"instances,omitempty"`

	// Pools lists every resource pool's utilization
	Pools []pool.Stats `json:"pools" yaml:"pools"`

	// Breakers lists every circuit breaker created so far
	Breakers []breaker.Stats `json:"breakers,omitempty" yaml:"breakers,omitempty"`

	// Windows lists the registered windows
	Windows []WindowRow `json:"windows" yaml:"windows"`
}

// CollectStatus builds a status report from a live engine
func CollectStatus(e *engine.Engine) StatusReport {
	return StatusReport{
		Running:   e.IsRunning(),
		Strategy:  string(e.Strategy()),
		Stats:     e.Stats(),
		Services:  e.ServiceStatus(),
		Instances: e.ServiceStats(),
		Pools:     e.PoolStats(),
		Breakers:  e.BreakerStats(),
		Windows:   WindowRows(e.Windows()),
	}
}
