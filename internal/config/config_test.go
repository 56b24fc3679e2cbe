package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestGetDefaults tests the built-in defaults
func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Detection.MergeMode != "union" {
		t.Errorf("MergeMode = %s, want union", cfg.Detection.MergeMode)
	}
	if cfg.Detection.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %f", cfg.Detection.ConfidenceThreshold)
	}
	if cfg.Model.Provider != "off" {
		t.Errorf("Provider = %s, want off", cfg.Model.Provider)
	}
	if !cfg.Redaction.TranslateDates {
		t.Error("TranslateDates should default on")
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("TTL = %s", cfg.Session.TTL)
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("Defaults must validate: %v", err)
	}
}

// TestValidateConfig tests configuration validation rules
func TestValidateConfig(t *testing.T) {
	mutate := func(f func(*Config)) *Config {
		cfg := GetDefaults()
		f(cfg)
		return cfg
	}

	cases := []struct {
		name string
		cfg  *Config
	}{
		{"PortZero", mutate(func(c *Config) { c.Server.Port = 0 })},
		{"PortTooHigh", mutate(func(c *Config) { c.Server.Port = 70000 })},
		{"BadMergeMode", mutate(func(c *Config) { c.Detection.MergeMode = "intersect" })},
		{"ThresholdNegative", mutate(func(c *Config) { c.Detection.ConfidenceThreshold = -0.1 })},
		{"ThresholdAboveOne", mutate(func(c *Config) { c.Detection.ConfidenceThreshold = 1.5 })},
		{"BadProvider", mutate(func(c *Config) { c.Model.Provider = "smoke-signal" })},
		{"ZeroTTL", mutate(func(c *Config) { c.Session.TTL = 0 })},
		{"BadLogLevel", mutate(func(c *Config) { c.Logging.Level = "verbose" })},
		{"BadLogFormat", mutate(func(c *Config) { c.Logging.Format = "xml" })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateConfig(tc.cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	t.Run("ValidVariants", func(t *testing.T) {
		for _, f := range []func(*Config){
			func(c *Config) { c.Detection.MergeMode = "best_of" },
			func(c *Config) { c.Model.Provider = "websocket" },
			func(c *Config) { c.Model.Provider = "openai" },
			func(c *Config) { c.Logging.Format = "console" },
		} {
			if err := validateConfig(mutate(f)); err != nil {
				t.Errorf("Valid variant rejected: %v", err)
			}
		}
	})
}

// TestLoad tests loading from an explicit config file
func TestLoad(t *testing.T) {
	t.Run("FromFile", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := `
server:
  port: 9191
detection:
  merge_mode: best_of
  confidence_threshold: 0.7
session:
  ttl: 10m
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9191 {
			t.Errorf("Port = %d", cfg.Server.Port)
		}
		if cfg.Detection.MergeMode != "best_of" {
			t.Errorf("MergeMode = %s", cfg.Detection.MergeMode)
		}
		if cfg.Detection.ConfidenceThreshold != 0.7 {
			t.Errorf("ConfidenceThreshold = %f", cfg.Detection.ConfidenceThreshold)
		}
		if cfg.Session.TTL != 10*time.Minute {
			t.Errorf("TTL = %s", cfg.Session.TTL)
		}
		// Untouched keys keep their defaults.
		if cfg.Redaction.TranslateDates != true {
			t.Error("Unset key lost its default")
		}
	})

	t.Run("InvalidFileRejected", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: -5\n"), 0o600); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		if _, err := Load(path); err == nil {
			t.Error("Negative port should fail validation")
		}
	})
}
