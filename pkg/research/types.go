package research

import (
	"context"
	"time"
)

// SearchResult represents a single search result. Content is empty when
// extraction failed or was skipped; the snippet is used instead.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// HasContent reports whether the fetcher produced text for this result.
func (r SearchResult) HasContent() bool { return r.Content != "" }

// Text returns the extracted content, or the snippet for degraded results.
func (r SearchResult) Text() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Snippet
}

// Analysis is the structured summary of one round.
type Analysis struct {
	KeyPoints []string `json:"key_findings"`
	Gaps      []string `json:"gaps"`
	Summary   string   `json:"summary,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	// Degraded is set when the analysis is a pass-through of the raw results.
	Degraded bool `json:"degraded,omitempty"`
}

// ResearchRound is one search, extract and analyze cycle.
type ResearchRound struct {
	RoundNumber   int            `json:"round_number"`
	Queries       []string       `json:"queries"`
	SearchResults []SearchResult `json:"search_results"`
	Analysis      Analysis       `json:"analysis"`
	Stats         RoundStats     `json:"stats"`
}

// RoundStats counts the failures absorbed while running a round.
type RoundStats struct {
	QueriesFailed int `json:"queries_failed"`
	Fetched       int `json:"fetched"`
	FetchFailed   int `json:"fetch_failed"`
	CacheHits     int `json:"cache_hits"`
}

// ResearchResult is returned once a session reaches its terminal state.
type ResearchResult struct {
	Topic       string          `json:"topic"`
	FinalReport string          `json:"final_report"`
	Rounds      []ResearchRound `json:"rounds"`
	Sources     []string        `json:"sources"`
	Timestamp   time.Time       `json:"timestamp"`
	TotalRounds int             `json:"total_rounds"`
}

// SearchProvider runs a single web search.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Fetcher retrieves a page and returns its cleaned text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Analyzer is the AI side of the pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, query string, results []SearchResult) (Analysis, error)
	ProposeFollowUps(ctx context.Context, topic string, analysis Analysis) ([]string, error)
	Synthesize(ctx context.Context, topic string, rounds []ResearchRound, sources []string) (string, error)
}

// QueryExpander is implemented by analyzers that can paraphrase the topic
// into additional round-1 queries.
type QueryExpander interface {
	ExpandTopic(ctx context.Context, topic string, n int) ([]string, error)
}

// Options are the research limits supplied by the configuration layer.
type Options struct {
	MaxRounds        int
	ResultsPerSearch int
	MaxConcurrency   int
	MaxFollowUps     int
	// QueryExpansions is the number of topic paraphrases added to round 1 (0 disables).
	QueryExpansions int
	SearchRetry     RetryPolicy
	FetchRetry      RetryPolicy
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxRounds:        3,
		ResultsPerSearch: 10,
		MaxConcurrency:   5,
		MaxFollowUps:     3,
		SearchRetry:      DefaultSearchPolicy(),
		FetchRetry:       DefaultFetchPolicy(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRounds <= 0 {
		o.MaxRounds = d.MaxRounds
	}
	if o.ResultsPerSearch <= 0 {
		o.ResultsPerSearch = d.ResultsPerSearch
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.MaxFollowUps <= 0 {
		o.MaxFollowUps = d.MaxFollowUps
	}
	if o.QueryExpansions > 3 {
		o.QueryExpansions = 3
	}
	if o.SearchRetry.MaxAttempts <= 0 {
		o.SearchRetry = d.SearchRetry
	}
	if o.FetchRetry.MaxAttempts <= 0 {
		o.FetchRetry = d.FetchRetry
	}
	return o
}
