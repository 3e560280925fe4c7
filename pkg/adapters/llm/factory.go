package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/ports"
	"github.com/strandlabs/strand/pkg/adapters/llm/anthropic"
)

// Config holds LLM provider configuration.
type Config struct {
	Provider string
	APIKey   string
	Logger   *zap.Logger
}

// NewProvider creates a streaming LLM provider based on configuration.
func NewProvider(cfg *Config) (ports.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewProvider(cfg.APIKey, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
