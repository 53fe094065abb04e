package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xiaomingjie/multiwin/internal/util"
)

const (
	defaultConfigName = ".multiwin"
	defaultConfigDir  = ".multiwin"
)

var validModes = map[string]bool{
	"":             true,
	"auto":         true,
	"parallel":     true,
	"sequential":   true,
	"batch":        true,
	"synchronized": true,
	"streaming":    true,
}

var validPolicies = map[string]bool{
	"":              true,
	"wait-all":      true,
	"stop-on-first": true,
}

// Manager handles multiwin configuration
type Manager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
		viper:      viper.New(),
		config:     &Config{},
	}
}

// Load loads the multiwin configuration from file. A missing file is not an
// error: defaults apply and the window roster stays empty.
func (m *Manager) Load() (*Config, error) {
	// Set up config file path
	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	} else {
		// Try multiple locations
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		// Check ~/.multiwin/config.yaml
		m.viper.AddConfigPath(filepath.Join(home, defaultConfigDir))
		// Check ~/.multiwin.yaml
		m.viper.AddConfigPath(home)
		m.viper.SetConfigName(defaultConfigName)
		m.viper.SetConfigType("yaml")
	}

	// Set environment variable support
	m.viper.SetEnvPrefix("MULTIWIN")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	// Initialize config to ensure defaults are set even for empty configs
	m.config = &Config{}

	// Read config file
	if err := m.viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		m.applyDefaults()
		return m.config, nil
	}

	// Unmarshal into config struct
	if err := m.viper.Unmarshal(m.config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m.config, nil
}

// Save saves the current configuration to file
func (m *Manager) Save() error {
	if m.configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		configDir := filepath.Join(home, defaultConfigDir)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		m.configPath = filepath.Join(configDir, "config.yaml")
	}

	// Ensure directory exists
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config to file
	if err := m.viper.WriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// GetWindow returns the roster entry for a title/handle pair
func (m *Manager) GetWindow(title string, handle uint64) (*WindowConfig, bool) {
	for i := range m.config.Windows {
		w := &m.config.Windows[i]
		if w.Title == title && w.Handle == handle {
			return w, true
		}
	}
	return nil, false
}

// SetWindow adds or updates a roster entry keyed by title and handle
func (m *Manager) SetWindow(win WindowConfig) {
	for i := range m.config.Windows {
		w := &m.config.Windows[i]
		if w.Title == win.Title && w.Handle == win.Handle {
			*w = win
			m.viper.Set("windows", m.config.Windows)
			return
		}
	}
	m.config.Windows = append(m.config.Windows, win)
	m.viper.Set("windows", m.config.Windows)
}

// RemoveWindow removes a roster entry
func (m *Manager) RemoveWindow(title string, handle uint64) {
	for i := range m.config.Windows {
		w := m.config.Windows[i]
		if w.Title == title && w.Handle == handle {
			m.config.Windows = append(m.config.Windows[:i], m.config.Windows[i+1:]...)
			m.viper.Set("windows", m.config.Windows)
			return
		}
	}
}

// EnabledWindows returns the roster entries that participate in runs
func (m *Manager) EnabledWindows() []WindowConfig {
	enabled := make([]WindowConfig, 0)
	for _, w := range m.config.Windows {
		if w.Enabled {
			enabled = append(enabled, w)
		}
	}
	return enabled
}

// Validate checks the configuration for values the engine would reject.
// Capacity values above the shared service hard caps are left alone here;
// the pool clamps them itself and logs the adjustment.
func (c *Config) Validate() error {
	if !validModes[c.Engine.Mode] {
		return fmt.Errorf("unknown execution mode %q: %w", c.Engine.Mode, util.ErrInvalidConfig)
	}
	if !validPolicies[c.Engine.CompletionPolicy] {
		return fmt.Errorf("unknown completion policy %q: %w", c.Engine.CompletionPolicy, util.ErrInvalidConfig)
	}
	if c.Pools.Windows < 0 || c.Pools.Services < 0 || c.Pools.Network < 0 {
		return fmt.Errorf("pool capacities must not be negative: %w", util.ErrInvalidConfig)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative: %w", util.ErrInvalidConfig)
	}
	if c.Retry.BackoffFactor < 0 {
		return fmt.Errorf("backoffFactor must not be negative: %w", util.ErrInvalidConfig)
	}
	for i, w := range c.Windows {
		if w.Title == "" {
			return fmt.Errorf("window %d has no title: %w", i, util.ErrInvalidConfig)
		}
	}
	for i, s := range c.Workflow.Steps {
		if s.FailureRate < 0 || s.FailureRate > 1 {
			return fmt.Errorf("workflow step %d failureRate must be in [0,1]: %w", i, util.ErrInvalidConfig)
		}
	}
	return nil
}

// Validate validates the manager's loaded configuration
func (m *Manager) Validate() error {
	if m.config == nil {
		return nil
	}
	return m.config.Validate()
}

// applyDefaults sets default values for configuration
func (m *Manager) applyDefaults() {
	if m.config == nil {
		return
	}

	if m.config.Engine.Mode == "" {
		m.config.Engine.Mode = "auto"
	}
	if m.config.Engine.CompletionPolicy == "" {
		m.config.Engine.CompletionPolicy = "wait-all"
	}
	if m.config.Engine.StopTimeout == 0 {
		m.config.Engine.StopTimeout = 30 * time.Second
	}

	if m.config.Defaults.Timeout == 0 {
		m.config.Defaults.Timeout = 5 * time.Minute
	}
	if m.config.Defaults.OutputFormat == "" {
		m.config.Defaults.OutputFormat = "table"
	}

	// A roster with no workflow runs a minimal single-step pass
	if len(m.config.Workflow.Steps) == 0 {
		m.config.Workflow = DefaultWorkflow()
	}
	if m.config.Workflow.Name == "" {
		m.config.Workflow.Name = "default"
	}
}

// DefaultWorkflow returns the workflow used when none is configured: a short
// navigate/recognize/act pass exercising the shared recognition service.
func DefaultWorkflow() WorkflowConfig {
	return WorkflowConfig{
		Name: "default",
		Steps: []StepConfig{
			{Name: "navigate", Duration: 50 * time.Millisecond},
			{Name: "recognize", Duration: 30 * time.Millisecond, Recognize: true},
			{Name: "act", Duration: 50 * time.Millisecond},
		},
	}
}
