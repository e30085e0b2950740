package provider

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ollamaPrefix selects the local variant, e.g. "ollama::llama3".
const ollamaPrefix = "ollama::"

// ResolverConfig carries the endpoint settings shared by all resolved
// clients.
type ResolverConfig struct {
	OpenAIBaseURL string
	OllamaBaseURL string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Resolve parses a model identifier into a concrete client. Resolution
// happens once at configuration time; the returned client carries the model
// and is reused for every call.
func Resolve(model string, cfg ResolverConfig) (Client, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("model identifier is empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if rest, ok := strings.CutPrefix(model, ollamaPrefix); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return nil, fmt.Errorf("model identifier %q has no model after the %q prefix", model, ollamaPrefix)
		}
		opts := []OllamaOption{WithOllamaLogger(logger)}
		if cfg.OllamaBaseURL != "" {
			opts = append(opts, WithOllamaBaseURL(cfg.OllamaBaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithOllamaTimeout(cfg.Timeout))
		}
		return NewOllama(rest, opts...), nil
	}

	opts := []OpenAIOption{WithOpenAILogger(logger)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, WithOpenAIBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithOpenAITimeout(cfg.Timeout))
	}
	return NewOpenAI(model, opts...), nil
}
