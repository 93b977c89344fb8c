package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colspan/wiiboard-simple/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	Address  string        `yaml:"address"`
	Light    bool          `yaml:"light"`
	LogLevel string        `yaml:"log_level"`
	Session  SessionConfig `yaml:"session"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Steps    StepsConfig   `yaml:"steps"`
}

// SessionConfig holds board session settings.
type SessionConfig struct {
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// StepsConfig holds step counter settings.
type StepsConfig struct {
	MinWeight float64 `yaml:"min_weight"` // kg; lighter reports are ignored
	Window    int     `yaml:"window"`     // samples used for the balance figure
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wiiboard")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values. Address is left
// empty: it is specific to each board.
func Default() *Config {
	return &Config{
		Light:    true,
		LogLevel: "info",
		Session: SessionConfig{
			DisconnectTimeout: 2 * time.Second,
			EventBuffer:       64,
		},
		Steps: StepsConfig{
			MinWeight: 10,
			Window:    800,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath unless a file
// already exists there, and returns the path.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if _, err := transport.ParseAddress(c.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Session.DisconnectTimeout <= 0 {
		return fmt.Errorf("session.disconnect_timeout must be > 0")
	}
	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be > 0")
	}

	if c.Steps.MinWeight < 0 {
		return fmt.Errorf("steps.min_weight must be >= 0")
	}
	if c.Steps.Window <= 0 {
		return fmt.Errorf("steps.window must be > 0")
	}

	return nil
}
