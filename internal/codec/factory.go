package codec

import (
	"fmt"
	"time"
)

// #region config

// Providers accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGRPC   = "grpc"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "llama3.1:8b"

// Config selects and configures a generator backend.
type Config struct {
	Provider     string
	Model        string
	BaseURL      string // ollama/openai base URL, or grpc target address
	APIKey       string
	MaxRetries   int
	RetryBackoff time.Duration
}

// #endregion config

// #region factory

// New builds the generator named by cfg.Provider. The returned close func releases any
// connection the generator holds and is never nil.
func New(cfg Config) (Generator, func() error, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	noop := func() error { return nil }

	var g Generator
	closeFn := noop
	switch cfg.Provider {
	case ProviderOllama, "":
		g = NewOllamaClient(cfg.BaseURL, model, nil)
	case ProviderOpenAI:
		g = NewOpenAIClient(cfg.APIKey, cfg.BaseURL, model)
	case ProviderGRPC:
		c, err := NewGRPCClient(cfg.BaseURL, model)
		if err != nil {
			return nil, noop, err
		}
		g, closeFn = c, c.Close
	default:
		return nil, noop, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}

	if cfg.MaxRetries > 0 {
		g = NewRetrying(g, cfg.MaxRetries, cfg.RetryBackoff)
	}
	return g, closeFn, nil
}

// #endregion factory
