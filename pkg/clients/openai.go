package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAICompatible creates a client for OpenAI or any endpoint speaking its
// chat completions API (DeepSeek). An empty baseURL uses OpenAI itself.
func OpenAICompatible(apiKey, baseURL, model string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is not set")
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return llm, nil
}
