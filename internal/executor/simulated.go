package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/xiaomingjie/multiwin/internal/servicepool"
	"github.com/xiaomingjie/multiwin/internal/util"
)

// defaultConfidence is the recognition confidence threshold used for
// workflow-driven recognition passes
const defaultConfidence = 0.8

// Recognizer performs text recognition on a window frame
// *servicepool.Pool satisfies this interface
type Recognizer interface {
	Recognize(ctx context.Context, windowID string, image []byte, confidenceThreshold float64) ([]servicepool.Match, error)
}

// SimulatedRunner executes a workflow by sleeping through each step's
// duration, with optional fault injection and recognition passes
// It stands in for real window automation so the orchestration layers
// can be exercised end to end
type SimulatedRunner struct {
	windowID   string
	spec       Spec
	recognizer Recognizer
	logger     *slog.Logger
}

// NewSimulatedRunner creates a runner for one window
// recognizer may be nil, in which case Recognize steps skip their
// recognition pass
func NewSimulatedRunner(windowID string, spec Spec, recognizer Recognizer, logger *slog.Logger) *SimulatedRunner {
	if logger == nil {
		logger = slog.Default()
	}

	return &SimulatedRunner{
		windowID:   windowID,
		spec:       spec,
		recognizer: recognizer,
		logger:     logger,
	}
}

// Run executes the workflow steps in order
// It returns early with the context error if cancelled mid-step
func (r *SimulatedRunner) Run(ctx context.Context) error {
	r.logger.Debug("workflow starting",
		"window", r.windowID,
		"workflow", r.spec.Name,
		"steps", len(r.spec.Steps))

	for i, step := range r.spec.Steps {
		r.logger.Debug("step starting",
			"window", r.windowID,
			"step", step.Name,
			"position", fmt.Sprintf("%d/%d", i+1, len(r.spec.Steps)))

		if err := sleepCtx(ctx, step.Duration); err != nil {
			return fmt.Errorf("step %q interrupted: %w", step.Name, err)
		}

		if step.FailureRate > 0 && rand.Float64() < step.FailureRate {
			return util.NewRetryableError(fmt.Errorf("step %q failed", step.Name))
		}

		if step.Recognize && r.recognizer != nil {
			if err := r.recognize(ctx, step); err != nil {
				return err
			}
		}
	}

	r.logger.Debug("workflow completed", "window", r.windowID, "workflow", r.spec.Name)
	return nil
}

// recognize runs one recognition pass against a synthetic frame
func (r *SimulatedRunner) recognize(ctx context.Context, step Step) error {
	frame := fmt.Appendf(nil, "frame %s/%s", r.windowID, step.Name)

	matches, err := r.recognizer.Recognize(ctx, r.windowID, frame, defaultConfidence)
	if err != nil {
		return fmt.Errorf("step %q recognition: %w", step.Name, err)
	}

	r.logger.Debug("recognition completed",
		"window", r.windowID,
		"step", step.Name,
		"matches", len(matches))

	return nil
}

// NewSimulatedFactory returns a RunnerFactory producing SimulatedRunners
// that share the given recognizer and logger
func NewSimulatedFactory(recognizer Recognizer, logger *slog.Logger) RunnerFactory {
	return func(windowID string, spec Spec) WorkflowRunner {
		return NewSimulatedRunner(windowID, spec, recognizer, logger)
	}
}

// sleepCtx sleeps for d or until the context is done, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
