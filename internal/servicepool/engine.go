package servicepool

import "context"

// Match is one recognition hit returned by a backend engine
type Match struct {
	// Text is the recognized string
	Text string `json:"text" yaml:"text"`

	// Confidence is the engine's score for this match, in [0,1]
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// BBox is the bounding box as left, top, width, height in pixels
	BBox [4]int `json:"bbox" yaml:"bbox"`
}

// RecognitionEngine is the lifecycle contract of one backend service
// instance. The pool manages assignment and teardown; it never looks inside
// the recognition itself.
type RecognitionEngine interface {
	// Initialize prepares the engine for use
	Initialize(ctx context.Context) error

	// Recognize runs recognition over an image, dropping matches below
	// the confidence threshold
	Recognize(ctx context.Context, image []byte, confidenceThreshold float64) ([]Match, error)

	// Shutdown releases the engine's resources
	Shutdown(ctx context.Context) error
}

// EngineFactory builds the backend engine for a new service instance
type EngineFactory func(serviceID string) RecognitionEngine
