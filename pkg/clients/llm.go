package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
)

// NewLLM returns the completion model selected by cfg.AIProvider.
func NewLLM(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	var (
		llm llms.Model
		err error
	)
	switch cfg.AIProvider {
	case config.ProviderDeepSeek:
		llm, err = asModel(OpenAICompatible(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel))
	case config.ProviderOpenAI:
		llm, err = asModel(OpenAICompatible(cfg.OpenAIAPIKey, "", cfg.OpenAIModel))
	case config.ProviderAnthropic:
		llm, err = asModel(AnthropicAI(cfg.AnthropicAPIKey, ModelType(cfg.AnthropicModel)))
	case config.ProviderGoogle:
		llm, err = asModel(GoogleAI(ctx, cfg.GoogleApiKey, ModelType(cfg.GoogleModel)))
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.AIProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.AIProvider, err)
	}
	return llm, nil
}

// asModel drops the concrete client type without leaking a typed nil.
func asModel[M llms.Model](m M, err error) (llms.Model, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SupportsJSONMode reports whether the provider honours llms.WithJSONMode.
func SupportsJSONMode(provider string) bool {
	switch provider {
	case config.ProviderDeepSeek, config.ProviderOpenAI, config.ProviderGoogle:
		return true
	default:
		return false
	}
}
