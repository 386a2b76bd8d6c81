package research

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noRetry keeps tests fast: one attempt, no backoff.
func noRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

func testOptions() Options {
	return Options{
		MaxRounds:        3,
		ResultsPerSearch: 10,
		MaxConcurrency:   4,
		MaxFollowUps:     3,
		SearchRetry:      noRetry(),
		FetchRetry:       noRetry(),
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	results map[string][]SearchResult
	errs    map[string]error
	calls   []string
	delay   time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		results: make(map[string][]SearchResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeProvider) on(query string, results ...SearchResult) *fakeProvider {
	f.results[query] = results
	return f
}

func (f *fakeProvider) fail(query string, err error) *fakeProvider {
	f.errs[query] = err
	return f
}

func (f *fakeProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, query)
	res, err := f.results[query], f.errs[query]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := append([]SearchResult(nil), res...)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func (f *fakeProvider) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
	delay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls[url]++
	page, ok := f.pages[url]
	err := f.errs[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &FetchError{URL: url, Failure: FetchHTTPStatus, Status: 404}
	}
	return page, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// fakeAnalyzer answers from queued follow-ups and a canned report.
type fakeAnalyzer struct {
	mu         sync.Mutex
	followUps  [][]string
	followErr  error
	analyzeErr error
	report     string
	synthErr   error

	analyzed    []string
	synthRounds []ResearchRound
	synthSrc    []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, query string, results []SearchResult) (Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, query)
	if f.analyzeErr != nil {
		return Analysis{}, f.analyzeErr
	}
	points := make([]string, 0, len(results))
	for _, r := range results {
		points = append(points, r.Title)
	}
	return Analysis{KeyPoints: points, Gaps: []string{"open question about " + query}}, nil
}

func (f *fakeAnalyzer) ProposeFollowUps(_ context.Context, _ string, _ Analysis) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.followErr != nil {
		return nil, f.followErr
	}
	if len(f.followUps) == 0 {
		return nil, nil
	}
	next := f.followUps[0]
	f.followUps = f.followUps[1:]
	return next, nil
}

func (f *fakeAnalyzer) Synthesize(_ context.Context, topic string, rounds []ResearchRound, sources []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthRounds = rounds
	f.synthSrc = sources
	if f.synthErr != nil {
		return "", f.synthErr
	}
	if f.report != "" {
		return f.report, nil
	}
	return "# " + topic + "\n\nReport body.", nil
}

var errBoom = errors.New("boom")

func result(title, url string) SearchResult {
	return SearchResult{Title: title, URL: url, Snippet: "snippet for " + title}
}
