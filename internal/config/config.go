// Package config loads the pscue configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the pscue configuration.
type Config struct {
	Parser      ParserConfig      `yaml:"parser"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Sequence    SequenceConfig    `yaml:"sequence"`
	History     HistoryConfig     `yaml:"history"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ParserConfig holds tokenizer settings.
type ParserConfig struct {
	// ValueFlags are flags whose next token is learned as a parameter
	// value rather than a generic argument.
	ValueFlags []string `yaml:"value_flags"`
}

// SuggestionsConfig holds ranking settings.
type SuggestionsConfig struct {
	MaxResults    int `yaml:"max_results"`    // Max suggestions returned
	ContextWindow int `yaml:"context_window"` // Recent commands consulted for context
}

// SequenceConfig holds n-gram and workflow detection settings.
type SequenceConfig struct {
	Order                  int `yaml:"order"`                    // N-gram order (2 = bigram)
	WorkflowGapSeconds     int `yaml:"workflow_gap_seconds"`     // Max gap between workflow steps
	WorkflowMinSteps       int `yaml:"workflow_min_steps"`       // Min steps in a workflow
	WorkflowMinOccurrences int `yaml:"workflow_min_occurrences"` // Min runs before a workflow is surfaced
}

// HistoryConfig holds retention settings.
type HistoryConfig struct {
	MaxCommands  int `yaml:"max_commands"`   // Max history records kept (0 = unlimited)
	MaxAgeDays   int `yaml:"max_age_days"`   // Max history record age (0 = unlimited)
	WindowAgeMin int `yaml:"window_age_min"` // Context window age in minutes
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath          string `yaml:"db_path"`           // Database path (empty = ~/.pscue/state.db)
	FlushIntervalMs int    `yaml:"flush_interval_ms"` // Background flush interval
	QueueSize       int    `yaml:"queue_size"`        // Delta queue capacity
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Parser: ParserConfig{
			ValueFlags: []string{
				"-m", "--message",
				"-o", "--output",
				"-t", "--tag",
				"-b", "--branch",
				"--name", "--file",
			},
		},
		Suggestions: SuggestionsConfig{
			MaxResults:    10,
			ContextWindow: 5,
		},
		Sequence: SequenceConfig{
			Order:                  2,
			WorkflowGapSeconds:     120,
			WorkflowMinSteps:       2,
			WorkflowMinOccurrences: 2,
		},
		History: HistoryConfig{
			MaxCommands:  10000,
			MaxAgeDays:   90,
			WindowAgeMin: 10,
		},
		Storage: StorageConfig{
			DBPath:          "",
			FlushIntervalMs: 250,
			QueueSize:       512,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the default config file path
// (~/.pscue/config.yaml).
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".pscue", "config.yaml"), nil
}

// Load loads the configuration from the default path.
func Load() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromFile(path)
}

// LoadFromFile loads configuration from the specified file. A missing
// file yields the defaults. Environment overrides apply last.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides.
// PSCUE_DB_PATH overrides storage.db_path.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PSCUE_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if os.Getenv("PSCUE_DEBUG") == "1" {
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Suggestions.MaxResults < 0 {
		return fmt.Errorf("suggestions.max_results must be >= 0, got %d", c.Suggestions.MaxResults)
	}
	if c.Sequence.Order < 1 {
		return fmt.Errorf("sequence.order must be >= 1, got %d", c.Sequence.Order)
	}
	if c.Sequence.WorkflowGapSeconds < 1 {
		return fmt.Errorf("sequence.workflow_gap_seconds must be >= 1, got %d", c.Sequence.WorkflowGapSeconds)
	}
	if c.Sequence.WorkflowMinSteps < 2 {
		return fmt.Errorf("sequence.workflow_min_steps must be >= 2, got %d", c.Sequence.WorkflowMinSteps)
	}
	if c.History.MaxCommands < 0 || c.History.MaxAgeDays < 0 {
		return fmt.Errorf("history retention limits must be >= 0")
	}
	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// WorkflowGap returns the workflow gap as a duration.
func (c *Config) WorkflowGap() time.Duration {
	return time.Duration(c.Sequence.WorkflowGapSeconds) * time.Second
}

// FlushInterval returns the storage flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Storage.FlushIntervalMs) * time.Millisecond
}

// HistoryMaxAge returns the history retention age as a duration.
// Zero means unlimited.
func (c *Config) HistoryMaxAge() time.Duration {
	return time.Duration(c.History.MaxAgeDays) * 24 * time.Hour
}

// WindowAge returns the context window age as a duration.
func (c *Config) WindowAge() time.Duration {
	return time.Duration(c.History.WindowAgeMin) * time.Minute
}

// SaveToFile writes the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
