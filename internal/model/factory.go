package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/notescrub/notescrub/internal/logger"
)

// ProviderConfig selects and configures a detector transport.
type ProviderConfig struct {
	// Provider: "websocket", "openai", or "" / "off" (disabled).
	Provider string
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewDetector creates the configured transport. A nil Detector with a nil
// error means the probabilistic detector is disabled and the pipeline runs
// pattern-only.
func NewDetector(cfg ProviderConfig, log *logger.Logger) (Detector, error) {
	switch strings.ToLower(cfg.Provider) {
	case "websocket", "ws":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("websocket detector requires an endpoint")
		}
		return NewWSDetector(cfg.Endpoint, log), nil

	case "openai":
		return NewOpenAIDetector(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, log)

	case "", "off":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown model provider: %s (supported: websocket, openai, off)", cfg.Provider)
	}
}
