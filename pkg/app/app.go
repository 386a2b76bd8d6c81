// Package app assembles the research pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

// Components are the long-lived collaborators shared by every session.
type Components struct {
	Cfg      *config.Config
	LLM      llms.Model
	Provider research.SearchProvider
	Fetcher  research.Fetcher
}

// New builds the AI client, search provider and fetcher selected by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	llm, err := clients.NewLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var provider research.SearchProvider
	switch cfg.SearchProvider {
	case config.SearchArxiv:
		provider = tools.NewArxivProvider(cfg.RequestTimeout, cfg.SearchRateLimit, logger)
	case config.SearchDuckDuckGo:
		provider = tools.NewDuckDuckGoProvider(cfg.RequestTimeout, cfg.SearchRateLimit, logger)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.SearchProvider)
	}

	fetcher := tools.NewHTTPFetcher(cfg.RequestTimeout, cfg.MaxContentLength, cfg.ExtractFormat, logger)
	if ocr := tools.NewMistralOCR(cfg.MistralAPIKey, cfg.LLMTimeout, logger); ocr != nil {
		fetcher.PDF = ocr
	}

	logger.Info("Research pipeline ready",
		"ai_provider", cfg.AIProvider,
		"search_provider", cfg.SearchProvider,
		"extract_format", cfg.ExtractFormat,
		"pdf_support", fetcher.PDF != nil,
	)
	return &Components{Cfg: cfg, LLM: llm, Provider: provider, Fetcher: fetcher}, nil
}

// Orchestrator creates a session-scoped orchestrator whose components all
// log to logger.
func (c *Components) Orchestrator(opts research.Options, logger *slog.Logger) *research.Orchestrator {
	analyzer := research.NewLLMAnalyzer(c.LLM, logger)
	analyzer.Temperature = c.Cfg.Temperature
	analyzer.MaxTokens = c.Cfg.MaxTokens
	analyzer.Timeout = c.Cfg.LLMTimeout
	analyzer.MaxFollowUps = opts.MaxFollowUps
	analyzer.JSONMode = clients.SupportsJSONMode(c.Cfg.AIProvider)
	// Retries after the first completion call; MAX_RETRIES covers search and fetch only.
	analyzer.Retry.MaxAttempts = c.Cfg.LLMMaxRetries + 1

	return research.NewOrchestrator(c.Provider, c.Fetcher, analyzer, opts, logger)
}
