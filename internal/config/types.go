package config

import "time"

// Config represents the multiwin configuration file structure
type Config struct {
	// Engine contains orchestration settings
	Engine EngineConfig `yaml:"engine,omitempty" json:"engine,omitempty"`

	// Pools contains the capacity of each resource pool
	Pools PoolsConfig `yaml:"pools,omitempty" json:"pools,omitempty"`

	// Services contains shared recognition service pool settings
	Services ServicesConfig `yaml:"services,omitempty" json:"services,omitempty"`

	// Retry contains retry executor settings
	Retry RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Breaker contains circuit breaker settings
	Breaker BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`

	// Windows is the roster of execution targets
	Windows []WindowConfig `yaml:"windows,omitempty" json:"windows,omitempty"`

	// Workflow describes the workflow every enabled window runs
	Workflow WorkflowConfig `yaml:"workflow,omitempty" json:"workflow,omitempty"`

	// Defaults contains default settings for CLI operations
	Defaults DefaultsConfig `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// EngineConfig contains orchestration tuning
type EngineConfig struct {
	// Mode is the requested execution mode
	// (auto, parallel, sequential, batch, synchronized, streaming)
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// ForceMode honors sequential/synchronized requests even when more
	// than one window is registered
	ForceMode bool `yaml:"forceMode,omitempty" json:"forceMode,omitempty"`

	// CompletionPolicy is either wait-all or stop-on-first
	CompletionPolicy string `yaml:"completionPolicy,omitempty" json:"completionPolicy,omitempty"`

	// StaggerDelay is the base launch offset for concurrent windows
	StaggerDelay time.Duration `yaml:"staggerDelay,omitempty" json:"staggerDelay,omitempty"`

	// BatchSize bounds batch chunks and streaming batches
	BatchSize int `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`

	// BatchTimeout closes a streaming batch that has not filled
	BatchTimeout time.Duration `yaml:"batchTimeout,omitempty" json:"batchTimeout,omitempty"`

	// QueueSize bounds the streaming admission queue
	QueueSize int `yaml:"queueSize,omitempty" json:"queueSize,omitempty"`

	// BarrierTimeout bounds each wait at a sync point
	BarrierTimeout time.Duration `yaml:"barrierTimeout,omitempty" json:"barrierTimeout,omitempty"`

	// StopTimeout is the budget for the stop protocol
	StopTimeout time.Duration `yaml:"stopTimeout,omitempty" json:"stopTimeout,omitempty"`
}

// PoolsConfig contains resource pool capacities
type PoolsConfig struct {
	// Windows caps concurrently executing windows
	Windows int `yaml:"windows,omitempty" json:"windows,omitempty"`

	// Services caps concurrent shared service calls
	Services int `yaml:"services,omitempty" json:"services,omitempty"`

	// Network caps concurrent network operations
	Network int `yaml:"network,omitempty" json:"network,omitempty"`
}

// ServicesConfig contains shared service pool tuning. MaxServices and
// MaxWindowsPerService are hard-capped by the pool regardless of what is
// configured here.
type ServicesConfig struct {
	// MaxServices is the service instance cap
	MaxServices int `yaml:"maxServices,omitempty" json:"maxServices,omitempty"`

	// MaxWindowsPerService is the assignment cap per instance
	MaxWindowsPerService int `yaml:"maxWindowsPerService,omitempty" json:"maxWindowsPerService,omitempty"`

	// IdleTimeout evicts instances unused for longer than this
	IdleTimeout time.Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`

	// SweepInterval is how often idle reclamation runs
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`
}

// RetryConfig contains retry executor tuning
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`

	// BackoffFactor is the exponential base for the delay between attempts
	BackoffFactor float64 `yaml:"backoffFactor,omitempty" json:"backoffFactor,omitempty"`

	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// BreakerConfig contains circuit breaker tuning
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit
	FailureThreshold int `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`

	// RecoveryTimeout is how long the circuit stays open before probing
	RecoveryTimeout time.Duration `yaml:"recoveryTimeout,omitempty" json:"recoveryTimeout,omitempty"`

	// HalfOpenMaxCalls is the probe budget while half-open
	HalfOpenMaxCalls int `yaml:"halfOpenMaxCalls,omitempty" json:"halfOpenMaxCalls,omitempty"`
}

// WindowConfig represents one window in the roster
type WindowConfig struct {
	// Title is the window title to bind
	Title string `yaml:"title" json:"title"`

	// Handle is the OS window handle
	Handle uint64 `yaml:"handle" json:"handle"`

	// Enabled indicates if this window participates in runs
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// StepConfig represents one workflow step
type StepConfig struct {
	// Name identifies the step
	Name string `yaml:"name" json:"name"`

	// Duration is how long the step takes to run
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`

	// FailureRate is the probability (0.0 to 1.0) of a retryable failure
	FailureRate float64 `yaml:"failureRate,omitempty" json:"failureRate,omitempty"`

	// Recognize requests a recognition pass after the step's work
	Recognize bool `yaml:"recognize,omitempty" json:"recognize,omitempty"`
}

// WorkflowConfig describes the workflow to run
type WorkflowConfig struct {
	// Name identifies the workflow
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Steps are executed in order
	Steps []StepConfig `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// DefaultsConfig contains default configuration values for CLI operations
type DefaultsConfig struct {
	// Timeout for run and stop operations
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// OutputFormat is the default output format (table, json, yaml)
	OutputFormat string `yaml:"outputFormat,omitempty" json:"outputFormat,omitempty"`

	// NoColor disables colored output
	NoColor bool `yaml:"noColor,omitempty" json:"noColor,omitempty"`
}
