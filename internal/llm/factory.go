package llm

import (
	"context"
	"fmt"

	"github.com/costlens/costlens/internal/config"
)

// NewProvider creates a provider from config, wrapped with retry handling
// for transient API errors.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	inner, err := newBaseProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(inner, DefaultRetryConfig()), nil
}

func newBaseProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case "openai", "openai-compat":
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	case "bedrock", "":
		return NewBedrockProvider(ctx, cfg.Bedrock.Region, cfg.Bedrock.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s (expected anthropic, openai, openai-compat, or bedrock)", cfg.Provider)
	}
}
