package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkspaceDir is the per-workspace state directory.
const WorkspaceDir = ".elysia"

// Config holds all Elysia configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Tension field defaults (scenarios may override threshold and seed)
	Field FieldConfig `yaml:"field"`

	// SQLite persistence of runs and sparks
	Store StoreConfig `yaml:"store"`

	// Mangle causal reasoning
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Scenario file watching
	Watch WatchConfig `yaml:"watch"`

	Logging LoggingConfig `yaml:"logging"`
}

// FieldConfig configures new tension fields.
type FieldConfig struct {
	Threshold  float64  `yaml:"threshold"`
	Seed       int64    `yaml:"seed"`
	Vocabulary []string `yaml:"vocabulary"`
}

// StoreConfig configures the run database.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"` // relative to the workspace unless absolute
}

// ReasoningConfig configures the causal rule engine.
type ReasoningConfig struct {
	Enabled   bool `yaml:"enabled"`
	FactLimit int  `yaml:"fact_limit"`
}

// WatchConfig configures `elysia watch`.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "elysia",
		Version: "0.3.0",

		Field: FieldConfig{
			Threshold: 0.7,
			Seed:      1,
			Vocabulary: []string{
				"Logic", "Emotion", "Memory", "Structure",
				"Time", "Desire", "Language", "Pattern",
			},
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(WorkspaceDir, "elysia.db"),
		},

		Reasoning: ReasoningConfig{
			Enabled:   true,
			FactLimit: 100000,
		},

		Watch: WatchConfig{
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    filepath.Join(WorkspaceDir, "logs"),
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults (with env overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("ELYSIA_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if v := os.Getenv("ELYSIA_THRESHOLD"); v != "" {
		if th, err := strconv.ParseFloat(v, 64); err == nil {
			c.Field.Threshold = th
		}
	}
	if lvl := os.Getenv("ELYSIA_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if v := os.Getenv("ELYSIA_DEBUG"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = on
		}
	}
}

// GetDebounce returns the watch debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// DatabasePath resolves the store path against the workspace.
func (c *Config) DatabasePath(workspace string) string {
	p := c.Store.DatabasePath
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Field.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("field.threshold must be positive, got %v", c.Field.Threshold))
	}
	if len(c.Field.Vocabulary) == 0 {
		errs = append(errs, errors.New("field.vocabulary must not be empty"))
	}
	if c.Store.Enabled && c.Store.DatabasePath == "" {
		errs = append(errs, errors.New("store.database_path required when the store is enabled"))
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errs = append(errs, fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels))
	}
	return errors.Join(errs...)
}

// DefaultConfigPath returns <workspace>/.elysia/config.yaml.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, WorkspaceDir, "config.yaml")
}

// FindWorkspaceRoot walks up from the working directory looking for a
// .elysia directory, then for a go.mod. Falls back to the working directory.
func FindWorkspaceRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for _, marker := range []string{WorkspaceDir, "go.mod"} {
		dir := cwd
		for {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return cwd, nil
}
