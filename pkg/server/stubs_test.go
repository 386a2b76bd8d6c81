package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider returns two results per query, or blocks until the context
// ends when block is set.
type stubProvider struct {
	block bool
	fail  error
}

func (p *stubProvider) Search(ctx context.Context, query string, _ int) ([]research.SearchResult, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.fail != nil {
		return nil, p.fail
	}
	return []research.SearchResult{
		{Title: query + " one", URL: "https://one.example/" + query, Snippet: "first"},
		{Title: query + " two", URL: "https://two.example/" + query, Snippet: "second"},
	}, nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	return "content of " + url, nil
}

// stubAnalyzer never proposes follow-ups, so sessions end after one round.
type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, query string, results []research.SearchResult) (research.Analysis, error) {
	return research.Analysis{KeyPoints: []string{fmt.Sprintf("%s has %d results", query, len(results))}, Gaps: []string{}}, nil
}

func (stubAnalyzer) ProposeFollowUps(context.Context, string, research.Analysis) ([]string, error) {
	return nil, nil
}

func (stubAnalyzer) Synthesize(_ context.Context, topic string, _ []research.ResearchRound, _ []string) (string, error) {
	return "# " + topic + "\n\n## Executive Summary\nDone.\n", nil
}

func testOptions() research.Options {
	opts := research.DefaultOptions()
	opts.MaxConcurrency = 2
	opts.SearchRetry = research.RetryPolicy{MaxAttempts: 1}
	opts.FetchRetry = research.RetryPolicy{MaxAttempts: 1}
	return opts
}

func newTestService(store JobStore, provider research.SearchProvider) *Service {
	factory := func(opts research.Options, logger *slog.Logger) *research.Orchestrator {
		return research.NewOrchestrator(provider, stubFetcher{}, stubAnalyzer{}, opts, logger)
	}
	return NewService(store, testOptions(), factory, quietLogger())
}

func waitForStatus(t *testing.T, s *Service, id uuid.UUID) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.GetJob(context.Background(), id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}
