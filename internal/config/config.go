// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. The credential list is read
// here once and passed explicitly into the key pool; nothing deeper reads
// the environment.
type Config struct {
	// APIKeys is the raw '|'-separated credential list. May be empty:
	// that only fails at first use of a provider that needs a key.
	APIKeys string
	// DefaultModel is used when neither the request nor the conversation
	// names a model. "ollama::<model>" selects the local provider.
	DefaultModel string
	// OpenAIBaseURL overrides the remote endpoint (OpenAI-compatible).
	OpenAIBaseURL string
	// OllamaBaseURL overrides the local endpoint.
	OllamaBaseURL string
	DBPath        string
	// ContextBudget is the token budget for history included in a request.
	ContextBudget  int
	RequestTimeout time.Duration
	Port           string
	FrontendURL    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIKeys:        getEnv("PROMPTD_API_KEYS", ""),
		DefaultModel:   getEnv("PROMPTD_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:  getEnv("PROMPTD_OPENAI_BASE_URL", ""),
		OllamaBaseURL:  getEnv("PROMPTD_OLLAMA_BASE_URL", ""),
		DBPath:         getEnv("PROMPTD_DB_PATH", "./data/promptd.db"),
		ContextBudget:  getEnvInt("PROMPTD_CONTEXT_BUDGET", 6000),
		RequestTimeout: time.Duration(getEnvInt("PROMPTD_REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.DefaultModel == "" {
		return fmt.Errorf("PROMPTD_MODEL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("PROMPTD_DB_PATH cannot be empty")
	}
	if c.ContextBudget <= 0 {
		return fmt.Errorf("PROMPTD_CONTEXT_BUDGET must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("PROMPTD_REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
