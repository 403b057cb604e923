// Package config loads runtime settings from the environment and story
// content from YAML files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// #region config

// Config holds every runtime setting for the session engine. All fields
// come from environment variables with sensible defaults, so a bare
// invocation runs against a local SQLite file and a scripted proposer.
type Config struct {
	// DBPath is the SQLite database file backing session state,
	// idempotency records and the step log.
	DBPath string `env:"SESSION_DB_PATH" envDefault:"sessions.db"`

	// ContentPath points at the YAML story content file. Empty means
	// built-in defaults only.
	ContentPath string `env:"SESSION_CONTENT_PATH"`

	// Provider selects the LLM backend: openai, anthropic, ollama, or
	// "scripted" for a no-network test double.
	Provider string `env:"SESSION_LLM_PROVIDER" envDefault:"scripted"`

	// Model is the provider-specific model identifier.
	Model string `env:"SESSION_LLM_MODEL" envDefault:"gpt-4o-mini"`

	// APIKey authenticates against the selected provider. Unused for
	// ollama and scripted.
	APIKey string `env:"SESSION_LLM_API_KEY"`

	// BaseURL overrides the provider endpoint (local ollama, proxies).
	BaseURL string `env:"SESSION_LLM_BASE_URL"`

	// MaxInputChars caps player input length after normalization.
	MaxInputChars int `env:"SESSION_MAX_INPUT_CHARS" envDefault:"2000"`

	// IdemTTL is how long a pending step claim may sit before another
	// request is allowed to take it over.
	IdemTTL time.Duration `env:"SESSION_IDEM_TTL" envDefault:"30s"`
}

// FromEnv parses a Config from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxInputChars <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX_INPUT_CHARS must be positive, got %d", cfg.MaxInputChars)
	}
	return cfg, nil
}

// #endregion config
