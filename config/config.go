// Package config provides configuration loading and persona management for
// Cortex.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Cortex configuration
type Config struct {
	Model         ModelConfig         `yaml:"model"`
	NATS          NATSConfig          `yaml:"nats"`
	Paths         PathsConfig         `yaml:"paths"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Default is the default model to use (e.g., "qwen2.5:32b")
	Default string `yaml:"default"`
	// Endpoint is the OpenAI-compatible API endpoint
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// PathsConfig configures on-disk state locations
type PathsConfig struct {
	// SequenceFile persists the reference code daily sequence
	SequenceFile string `yaml:"sequence_file"`
	// ContextDir holds the business context entries, one file per entry
	ContextDir string `yaml:"context_dir"`
	// PersonaDir holds agent persona YAML files
	PersonaDir string `yaml:"persona_dir"`
}

// OrchestrationConfig configures the coordinator and supervision
type OrchestrationConfig struct {
	// CoordinatorID is the chief-of-staff agent identity
	CoordinatorID string `yaml:"coordinator_id"`
	// EscalationTarget receives proposals and escalations
	EscalationTarget string `yaml:"escalation_target"`
	// ConfidenceThreshold is the minimum decomposition confidence
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// MaxRetries bounds supervision re-dispatches per delegation
	MaxRetries int `yaml:"max_retries"`
	// SupervisionInterval is the overdue sweep interval
	SupervisionInterval time.Duration `yaml:"supervision_interval"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "qwen2.5:32b",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Paths: PathsConfig{
			SequenceFile: ".cortex/sequence.json",
			ContextDir:   ".cortex/context",
			PersonaDir:   ".cortex/personas",
		},
		Orchestration: OrchestrationConfig{
			CoordinatorID:       "cos",
			EscalationTarget:    "founder",
			ConfidenceThreshold: 0.7,
			MaxRetries:          3,
			SupervisionInterval: 60 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Orchestration.CoordinatorID == "" {
		return fmt.Errorf("orchestration.coordinator_id is required")
	}
	if c.Orchestration.EscalationTarget == "" {
		return fmt.Errorf("orchestration.escalation_target is required")
	}
	if c.Orchestration.ConfidenceThreshold < 0 || c.Orchestration.ConfidenceThreshold > 1 {
		return fmt.Errorf("orchestration.confidence_threshold must be between 0 and 1")
	}
	if c.Orchestration.MaxRetries < 1 {
		return fmt.Errorf("orchestration.max_retries must be at least 1")
	}
	if c.Orchestration.SupervisionInterval <= 0 {
		return fmt.Errorf("orchestration.supervision_interval must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays environment variables onto the config. Only the
// connection-level settings are overridable this way.
func (c *Config) ApplyEnv() {
	if url := os.Getenv("CORTEX_NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Embedded = false
	}
	if endpoint := os.Getenv("CORTEX_MODEL_ENDPOINT"); endpoint != "" {
		c.Model.Endpoint = endpoint
	}
	if model := os.Getenv("CORTEX_MODEL"); model != "" {
		c.Model.Default = model
	}
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Paths
	if other.Paths.SequenceFile != "" {
		c.Paths.SequenceFile = other.Paths.SequenceFile
	}
	if other.Paths.ContextDir != "" {
		c.Paths.ContextDir = other.Paths.ContextDir
	}
	if other.Paths.PersonaDir != "" {
		c.Paths.PersonaDir = other.Paths.PersonaDir
	}

	// Orchestration
	if other.Orchestration.CoordinatorID != "" {
		c.Orchestration.CoordinatorID = other.Orchestration.CoordinatorID
	}
	if other.Orchestration.EscalationTarget != "" {
		c.Orchestration.EscalationTarget = other.Orchestration.EscalationTarget
	}
	if other.Orchestration.ConfidenceThreshold != 0 {
		c.Orchestration.ConfidenceThreshold = other.Orchestration.ConfidenceThreshold
	}
	if other.Orchestration.MaxRetries != 0 {
		c.Orchestration.MaxRetries = other.Orchestration.MaxRetries
	}
	if other.Orchestration.SupervisionInterval != 0 {
		c.Orchestration.SupervisionInterval = other.Orchestration.SupervisionInterval
	}
}
