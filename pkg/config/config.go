package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mikeboe/deep-research/pkg/research"
)

// AI providers.
const (
	ProviderDeepSeek  = "deepseek"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Search providers.
const (
	SearchDuckDuckGo = "duckduckgo"
	SearchArxiv      = "arxiv"
)

type Config struct {
	AIProvider string

	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	GoogleApiKey    string
	GoogleModel     string

	Temperature float64
	MaxTokens   int

	MaxRounds        int
	ResultsPerSearch int
	MaxConcurrency   int
	MaxFollowUps     int
	QueryExpansions  int

	SearchProvider   string
	SearchRateLimit  float64
	RequestTimeout   time.Duration
	LLMTimeout       time.Duration
	MaxRetries       int
	LLMMaxRetries    int
	RetryDelay       time.Duration
	MaxContentLength int
	ExtractFormat    string
	MistralAPIKey    string

	DatabaseURL string
	Port        string
	OutputDir   string
	LogLevel    string
}

// Load reads .env (when present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AIProvider: strings.ToLower(getEnv("AI_PROVIDER", ProviderDeepSeek)),

		DeepSeekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GoogleApiKey:    getEnv("GOOGLE_API_KEY", ""),
		GoogleModel:     getEnv("GOOGLE_MODEL", "gemini-3-flash-preview"),

		Temperature: getEnvAsFloat("TEMPERATURE", 0.7),
		MaxTokens:   getEnvAsInt("MAX_TOKENS", 4000),

		MaxRounds:        getEnvAsInt("MAX_RESEARCH_ROUNDS", 3),
		ResultsPerSearch: getEnvAsInt("RESULTS_PER_SEARCH", 10),
		MaxConcurrency:   getEnvAsInt("MAX_CONCURRENT_REQUESTS", 5),
		MaxFollowUps:     getEnvAsInt("MAX_FOLLOW_UPS", 3),
		QueryExpansions:  getEnvAsInt("QUERY_EXPANSIONS", 0),

		SearchProvider:   strings.ToLower(getEnv("SEARCH_PROVIDER", SearchDuckDuckGo)),
		SearchRateLimit:  getEnvAsFloat("SEARCH_RATE_LIMIT", 1),
		RequestTimeout:   getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		LLMTimeout:       getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
		MaxRetries:       getEnvAsInt("MAX_RETRIES", 3),
		LLMMaxRetries:    getEnvAsInt("LLM_MAX_RETRIES", 2),
		RetryDelay:       getEnvAsDuration("RETRY_DELAY", time.Second),
		MaxContentLength: getEnvAsInt("MAX_CONTENT_LENGTH", 5000),
		ExtractFormat:    strings.ToLower(getEnv("EXTRACT_FORMAT", "text")),
		MistralAPIKey:    getEnv("MISTRAL_API_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8081"),
		OutputDir:   getEnv("OUTPUT_DIR", "outputs"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks that the selected provider has credentials and that all
// limits are usable.
func (c *Config) Validate() error {
	var errs []error

	switch c.AIProvider {
	case ProviderDeepSeek:
		if c.DeepSeekAPIKey == "" {
			errs = append(errs, errors.New("DEEPSEEK_API_KEY is required when AI_PROVIDER=deepseek"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when AI_PROVIDER=openai"))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when AI_PROVIDER=anthropic"))
		}
	case ProviderGoogle:
		if c.GoogleApiKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required when AI_PROVIDER=google"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider))
	}

	switch c.SearchProvider {
	case SearchDuckDuckGo, SearchArxiv:
	default:
		errs = append(errs, fmt.Errorf("unsupported SEARCH_PROVIDER %q", c.SearchProvider))
	}
	switch c.ExtractFormat {
	case "text", "markdown":
	default:
		errs = append(errs, fmt.Errorf("unsupported EXTRACT_FORMAT %q", c.ExtractFormat))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"MAX_RESEARCH_ROUNDS", c.MaxRounds},
		{"RESULTS_PER_SEARCH", c.ResultsPerSearch},
		{"MAX_CONCURRENT_REQUESTS", c.MaxConcurrency},
		{"MAX_FOLLOW_UPS", c.MaxFollowUps},
		{"MAX_RETRIES", c.MaxRetries},
		{"MAX_TOKENS", c.MaxTokens},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.LLMMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_RETRIES must not be negative, got %d", c.LLMMaxRetries))
	}
	if c.QueryExpansions < 0 {
		errs = append(errs, fmt.Errorf("QUERY_EXPANSIONS must not be negative, got %d", c.QueryExpansions))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("TEMPERATURE must be between 0 and 2, got %g", c.Temperature))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// ResearchOptions converts the limits into orchestrator options.
func (c *Config) ResearchOptions() research.Options {
	opts := research.DefaultOptions()
	opts.MaxRounds = c.MaxRounds
	opts.ResultsPerSearch = c.ResultsPerSearch
	opts.MaxConcurrency = c.MaxConcurrency
	opts.MaxFollowUps = c.MaxFollowUps
	opts.QueryExpansions = c.QueryExpansions

	opts.SearchRetry.MaxAttempts = c.MaxRetries
	opts.FetchRetry.MaxAttempts = c.MaxRetries
	if c.RetryDelay > 0 {
		opts.SearchRetry.BaseDelay = c.RetryDelay
		opts.FetchRetry.BaseDelay = c.RetryDelay
	}
	return opts
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
