package executor

import (
	"context"
	"time"
)

// Step is a single stage of a window workflow.
type Step struct {
	// Name identifies the step in logs and progress output
	Name string `json:"name" yaml:"name"`

	// Duration is how long the step takes to run
	Duration time.Duration `json:"duration" yaml:"duration"`

	// FailureRate is the probability (0.0 to 1.0) that the step fails
	// with a retryable error
	FailureRate float64 `json:"failureRate,omitempty" yaml:"failureRate,omitempty"`

	// Recognize requests a recognition pass against the window's frame
	// after the step's work completes
	Recognize bool `json:"recognize,omitempty" yaml:"recognize,omitempty"`
}

// Spec describes the workflow every window runs
type Spec struct {
	// Name identifies the workflow
	Name string `json:"name" yaml:"name"`

	// Steps are executed in order
	Steps []Step `json:"steps" yaml:"steps"`
}

// TotalDuration returns the sum of all step durations
// It is the expected runtime of a failure-free pass
func (s Spec) TotalDuration() time.Duration {
	var total time.Duration
	for _, step := range s.Steps {
		total += step.Duration
	}
	return total
}

// NeedsRecognition reports whether any step calls the shared recognition
// service
func (s Spec) NeedsRecognition() bool {
	for _, step := range s.Steps {
		if step.Recognize {
			return true
		}
	}
	return false
}

// WorkflowRunner executes one pass of a workflow for a single window
// Run must honour context cancellation between units of work
type WorkflowRunner interface {
	Run(ctx context.Context) error
}

// RunnerFactory builds a WorkflowRunner bound to a specific window
type RunnerFactory func(windowID string, spec Spec) WorkflowRunner
