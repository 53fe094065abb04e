package servicepool

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"time"
)

// simulatedLatency is the per-call delay of the simulated backend
const simulatedLatency = 5 * time.Millisecond

// SimulatedEngine is a self-contained recognition backend used when no
// real OCR service is wired in. Matches are derived deterministically from
// the frame bytes so repeated calls over the same frame agree.
type SimulatedEngine struct {
	serviceID string
	logger    *slog.Logger
}

// NewSimulatedEngine builds the backend for one service instance
func NewSimulatedEngine(serviceID string, logger *slog.Logger) *SimulatedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedEngine{serviceID: serviceID, logger: logger}
}

// Initialize warms the engine up
func (s *SimulatedEngine) Initialize(ctx context.Context) error {
	if err := simulatedWait(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", s.serviceID, err)
	}
	s.logger.Debug("simulated recognition engine ready", "serviceId", s.serviceID)
	return nil
}

// Recognize produces pseudo matches seeded by the frame contents and
// filtered by the confidence threshold
func (s *SimulatedEngine) Recognize(ctx context.Context, image []byte, confidenceThreshold float64) ([]Match, error) {
	if err := simulatedWait(ctx); err != nil {
		return nil, fmt.Errorf("recognize on %s: %w", s.serviceID, err)
	}

	h := fnv.New64a()
	h.Write(image)
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(len(image))))

	count := 1 + rng.IntN(3)
	matches := make([]Match, 0, count)
	for i := 0; i < count; i++ {
		confidence := 0.5 + rng.Float64()*0.5
		x := rng.IntN(800)
		y := rng.IntN(600)
		w := 40 + rng.IntN(200)
		fh := 16 + rng.IntN(24)
		if confidence < confidenceThreshold {
			continue
		}
		matches = append(matches, Match{
			Text:       fmt.Sprintf("field-%d", i+1),
			Confidence: confidence,
			BBox:       [4]int{x, y, w, fh},
		})
	}
	return matches, nil
}

// Shutdown releases the engine
func (s *SimulatedEngine) Shutdown(ctx context.Context) error {
	s.logger.Debug("simulated recognition engine shut down", "serviceId", s.serviceID)
	return nil
}

// SimulatedFactory builds simulated backends for the pool
func SimulatedFactory(logger *slog.Logger) EngineFactory {
	return func(serviceID string) RecognitionEngine {
		return NewSimulatedEngine(serviceID, logger)
	}
}

func simulatedWait(ctx context.Context) error {
	timer := time.NewTimer(simulatedLatency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
