package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/config"
)

func TestNewLLM(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{
			name: "deepseek",
			cfg:  config.Config{AIProvider: config.ProviderDeepSeek, DeepSeekAPIKey: "sk-test", DeepSeekBaseURL: "https://api.deepseek.com/v1", DeepSeekModel: "deepseek-chat"},
		},
		{
			name: "openai",
			cfg:  config.Config{AIProvider: config.ProviderOpenAI, OpenAIAPIKey: "sk-test", OpenAIModel: "gpt-4o-mini"},
		},
		{
			name: "anthropic",
			cfg:  config.Config{AIProvider: config.ProviderAnthropic, AnthropicAPIKey: "sk-ant-test"},
		},
		{
			name:    "missing key",
			cfg:     config.Config{AIProvider: config.ProviderOpenAI},
			wantErr: "openai: API key is not set",
		},
		{
			name:    "unknown provider",
			cfg:     config.Config{AIProvider: "llama"},
			wantErr: "unsupported AI provider: llama",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm, err := NewLLM(context.Background(), &tt.cfg)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				assert.True(t, llm == nil)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, llm)
		})
	}
}

func TestSupportsJSONMode(t *testing.T) {
	assert.True(t, SupportsJSONMode(config.ProviderDeepSeek))
	assert.True(t, SupportsJSONMode(config.ProviderGoogle))
	assert.False(t, SupportsJSONMode(config.ProviderAnthropic))
}
