package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Address != "" {
		t.Errorf("Address = %q, want empty", cfg.Address)
	}
	if !cfg.Light {
		t.Error("Light should default to true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Session.DisconnectTimeout != 2*time.Second {
		t.Errorf("Session.DisconnectTimeout = %v, want 2s", cfg.Session.DisconnectTimeout)
	}
	if cfg.Session.EventBuffer != 64 {
		t.Errorf("Session.EventBuffer = %d, want 64", cfg.Session.EventBuffer)
	}
	if cfg.Steps.MinWeight != 10 {
		t.Errorf("Steps.MinWeight = %v, want 10", cfg.Steps.MinWeight)
	}
	if cfg.Steps.Window != 800 {
		t.Errorf("Steps.Window = %d, want 800", cfg.Steps.Window)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen = %q, want empty", cfg.Metrics.Listen)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
address: "00:26:59:7B:7F:5F"
light: false
log_level: debug
session:
  disconnect_timeout: 500ms
  event_buffer: 8
metrics:
  listen: ":9101"
steps:
  min_weight: 15.5
  window: 100
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Address != "00:26:59:7B:7F:5F" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.Light {
		t.Error("Light = true, want false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Session.DisconnectTimeout != 500*time.Millisecond {
		t.Errorf("Session.DisconnectTimeout = %v, want 500ms", cfg.Session.DisconnectTimeout)
	}
	if cfg.Session.EventBuffer != 8 {
		t.Errorf("Session.EventBuffer = %d, want 8", cfg.Session.EventBuffer)
	}
	if cfg.Metrics.Listen != ":9101" {
		t.Errorf("Metrics.Listen = %q, want :9101", cfg.Metrics.Listen)
	}
	if cfg.Steps.MinWeight != 15.5 {
		t.Errorf("Steps.MinWeight = %v, want 15.5", cfg.Steps.MinWeight)
	}
	if cfg.Steps.Window != 100 {
		t.Errorf("Steps.Window = %d, want 100", cfg.Steps.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("address: \"00:26:59:7B:7F:5F\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.EventBuffer != 64 || cfg.Steps.Window != 800 || !cfg.Light {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("session: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty address",
			modify:  func(c *Config) { c.Address = "" },
			wantErr: true,
		},
		{
			name:    "malformed address",
			modify:  func(c *Config) { c.Address = "00:26:59" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "zero disconnect timeout",
			modify:  func(c *Config) { c.Session.DisconnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero event buffer",
			modify:  func(c *Config) { c.Session.EventBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "negative min weight",
			modify:  func(c *Config) { c.Steps.MinWeight = -1 },
			wantErr: true,
		},
		{
			name:    "zero window",
			modify:  func(c *Config) { c.Steps.Window = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Address = "00:26:59:7B:7F:5F"
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "wiiboard", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Session.DisconnectTimeout != 2*time.Second {
		t.Errorf("round-tripped DisconnectTimeout = %v, want 2s", cfg.Session.DisconnectTimeout)
	}
}

func TestWriteDefault_DoesNotOverwrite(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if _, err := WriteDefault(); err != nil {
		t.Fatalf("first WriteDefault() error = %v", err)
	}
	if _, err := WriteDefault(); err == nil {
		t.Error("second WriteDefault() should refuse to overwrite")
	}
}
