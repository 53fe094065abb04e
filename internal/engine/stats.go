package engine

import (
	"time"

	"github.com/xiaomingjie/multiwin/internal/executor"
)

// PerformanceStats is the pull-based throughput snapshot of the engine
type PerformanceStats struct {
	// TotalWindows counts window results recorded since startup
	TotalWindows int `json:"totalWindows" yaml:"totalWindows"`

	// Successful counts windows that completed their workflow
	Successful int `json:"successful" yaml:"successful"`

	// Failed counts windows that failed or were cancelled
	Failed int `json:"failed" yaml:"failed"`

	// AvgExecutionTime is the mean duration of windows that executed
	AvgExecutionTime time.Duration `json:"avgExecutionTime" yaml:"avgExecutionTime"`

	// ActiveResources is the number of capacity permits currently held
	ActiveResources int `json:"activeResources" yaml:"activeResources"`

	// QueueDepth is the number of windows waiting in the streaming queue
	QueueDepth int `json:"queueDepth" yaml:"queueDepth"`
}

// counters accumulates run outcomes across the engine lifetime. Guarded by
// Engine.mu.
type counters struct {
	total      int
	successful int
	failed     int
	executed   int
	execTime   time.Duration
}

func (c *counters) note(r executor.Result) {
	c.total++
	if r.Success {
		c.successful++
	} else {
		c.failed++
	}
	// Skipped windows carry no duration and are left out of the average
	if r.Duration > 0 {
		c.executed++
		c.execTime += r.Duration
	}
}

func (c *counters) avg() time.Duration {
	if c.executed == 0 {
		return 0
	}
	return c.execTime / time.Duration(c.executed)
}
