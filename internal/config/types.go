package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	Model     ModelConfig     `yaml:"model" mapstructure:"model"`
	Redaction RedactionConfig `yaml:"redaction" mapstructure:"redaction"`
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RateLimit    struct {
		Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
		RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
		Burst          int     `yaml:"burst" mapstructure:"burst"`
	} `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// DetectionConfig contains pattern-detector and merge-policy configuration.
// These values seed the default policy; every pipeline entry point still
// takes an explicit policy value, so a request can override them.
type DetectionConfig struct {
	Rules               []string `yaml:"rules" mapstructure:"rules"`
	MergeMode           string   `yaml:"merge_mode" mapstructure:"merge_mode"` // union or best_of
	ConfidenceThreshold float64  `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	ProtectProviders    bool     `yaml:"protect_providers" mapstructure:"protect_providers"`
}

// ModelConfig configures the external probabilistic detector transport
type ModelConfig struct {
	Provider string        `yaml:"provider" mapstructure:"provider"` // websocket, openai, or off
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"`
	Model    string        `yaml:"model" mapstructure:"model"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RedactionConfig contains redaction defaults
type RedactionConfig struct {
	TranslateDates bool `yaml:"translate_dates" mapstructure:"translate_dates"`
}

// SessionConfig bounds how long an editable detection session (which holds
// PHI spans in memory) may live
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Detection: DetectionConfig{
			Rules:               []string{"all"},
			MergeMode:           "union",
			ConfidenceThreshold: 0.5,
			ProtectProviders:    false,
		},
		Model: ModelConfig{
			Provider: "off",
			Timeout:  30 * time.Second,
		},
		Redaction: RedactionConfig{
			TranslateDates: true,
		},
		Session: SessionConfig{
			TTL:             30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.RequestsPerSec = 10
	cfg.Server.RateLimit.Burst = 20
	return cfg
}
