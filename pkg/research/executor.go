package research

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// RoundExecutor drives the search and fetch stages of one round on a
// bounded worker pool.
type RoundExecutor struct {
	Provider         SearchProvider
	Fetcher          Fetcher
	ResultsPerSearch int
	SearchRetry      RetryPolicy
	FetchRetry       RetryPolicy
	Logger           *slog.Logger
}

// NewRoundExecutor builds an executor using the limits and retry policies in opts.
func NewRoundExecutor(provider SearchProvider, fetcher Fetcher, opts Options, logger *slog.Logger) *RoundExecutor {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &RoundExecutor{
		Provider:         provider,
		Fetcher:          fetcher,
		ResultsPerSearch: opts.ResultsPerSearch,
		SearchRetry:      opts.SearchRetry,
		FetchRetry:       opts.FetchRetry,
		Logger:           logger,
	}
}

// RunRound searches every query and then fetches every new URL. The two
// stages run one after the other, each bounded by limit.
func (x *RoundExecutor) RunRound(ctx context.Context, queries []string, cache *URLCache, limit int) ([]SearchResult, RoundStats, error) {
	results, stats, err := x.SearchStage(ctx, queries, limit)
	if err != nil {
		return nil, stats, err
	}
	fetchStats := x.ExtractStage(ctx, results, cache, limit)
	stats.Fetched = fetchStats.Fetched
	stats.FetchFailed = fetchStats.FetchFailed
	stats.CacheHits = fetchStats.CacheHits
	return results, stats, nil
}

// SearchStage dispatches each query to the provider. A failing query only
// removes its own results; ErrAllQueriesFailed is returned when none
// succeeded. Results keep per-query order, batches appear in completion
// order, and duplicate URLs keep their first occurrence.
func (x *RoundExecutor) SearchStage(ctx context.Context, queries []string, limit int) ([]SearchResult, RoundStats, error) {
	var (
		stats      RoundStats
		mu         sync.Mutex
		batches    [][]SearchResult
		dispatched int
	)
	perQuery := x.ResultsPerSearch
	if perQuery <= 0 {
		perQuery = DefaultOptions().ResultsPerSearch
	}

	g := new(errgroup.Group)
	g.SetLimit(workerLimit(limit))
	for _, query := range queries {
		if ctx.Err() != nil {
			x.Logger.Info("Search dispatch stopped", "reason", ctx.Err(), "remaining", len(queries)-dispatched)
			break
		}
		dispatched++
		g.Go(func() error {
			found, err := Retry(ctx, x.SearchRetry, x.Logger, "search", func(ctx context.Context) ([]SearchResult, error) {
				return x.Provider.Search(ctx, query, perQuery)
			})
			if err != nil {
				kind := Classify(err)
				x.Logger.Warn("Search failed, dropping query", "query", query, "kind", kind, "error", err)
				metrics.Searches.WithLabelValues("failed").Inc()
				metrics.AbsorbedErrors.WithLabelValues("search", kind.String()).Inc()
				mu.Lock()
				stats.QueriesFailed++
				mu.Unlock()
				return nil
			}
			if len(found) > perQuery {
				found = found[:perQuery]
			}
			metrics.Searches.WithLabelValues("ok").Inc()
			x.Logger.Info("Search successful", "query", query, "count", len(found))

			mu.Lock()
			batches = append(batches, found)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if dispatched == 0 {
		return nil, stats, fmt.Errorf("search stage: %w", ctx.Err())
	}
	if stats.QueriesFailed == dispatched {
		return nil, stats, ErrAllQueriesFailed
	}

	seen := make(map[string]bool)
	var results []SearchResult
	for _, batch := range batches {
		for _, r := range batch {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			r.Content = ""
			results = append(results, r)
		}
	}
	return results, stats, nil
}

// ExtractStage fills in Content for each result through the session cache.
// Failures leave Content empty so the snippet is used downstream.
func (x *RoundExecutor) ExtractStage(ctx context.Context, results []SearchResult, cache *URLCache, limit int) RoundStats {
	var (
		stats RoundStats
		mu    sync.Mutex
	)

	g := new(errgroup.Group)
	g.SetLimit(workerLimit(limit))
	for i := range results {
		if ctx.Err() != nil {
			x.Logger.Info("Fetch dispatch stopped", "reason", ctx.Err())
			break
		}
		url := results[i].URL
		g.Go(func() error {
			content, hit, err := cache.GetOrFetch(ctx, url, func(ctx context.Context) (string, error) {
				return Retry(ctx, x.FetchRetry, x.Logger, "fetch", func(ctx context.Context) (string, error) {
					return x.Fetcher.Fetch(ctx, url)
				})
			})

			mu.Lock()
			defer mu.Unlock()
			if hit {
				stats.CacheHits++
				metrics.CacheHits.Inc()
			}
			if err != nil {
				stats.FetchFailed++
				if !hit {
					kind := Classify(err)
					x.Logger.Warn("Fetch failed, using snippet", "url", url, "kind", kind, "error", err)
					metrics.Fetches.WithLabelValues("failed").Inc()
					metrics.AbsorbedErrors.WithLabelValues("fetch", kind.String()).Inc()
				}
				return nil
			}
			if !hit {
				metrics.Fetches.WithLabelValues("ok").Inc()
			}
			stats.Fetched++
			results[i].Content = content
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func workerLimit(limit int) int {
	if limit <= 0 {
		return DefaultOptions().MaxConcurrency
	}
	return limit
}
