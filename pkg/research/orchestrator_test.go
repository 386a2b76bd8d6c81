package research

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(p SearchProvider, f Fetcher, a Analyzer) *Orchestrator {
	return NewOrchestrator(p, f, a, testOptions(), discardLogger())
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Phase)
	}
	return out
}

func TestConductResearchTwoRounds(t *testing.T) {
	provider := newFakeProvider().
		on("quantum computing",
			result("Intro", "https://q1.example"),
			result("Hardware", "https://q2.example")).
		on("quantum error correction",
			result("Intro again", "https://q1.example"),
			result("Surface codes", "https://q3.example"),
			result("Logical qubits", "https://q4.example"))
	fetcher := newFakeFetcher()
	for _, u := range []string{"https://q1.example", "https://q2.example", "https://q3.example"} {
		fetcher.pages[u] = "content of " + u
	}
	analyzer := &fakeAnalyzer{followUps: [][]string{{"quantum error correction"}}}

	o := newTestOrchestrator(provider, fetcher, analyzer)
	res, err := o.ConductResearch(context.Background(), "quantum computing", 2, nil)

	require.NoError(t, err)
	assert.Equal(t, "quantum computing", res.Topic)
	assert.NotEmpty(t, res.FinalReport)
	assert.Equal(t, 2, res.TotalRounds)
	require.Len(t, res.Rounds, 2)
	assert.Equal(t, 1, res.Rounds[0].RoundNumber)
	assert.Equal(t, 2, res.Rounds[1].RoundNumber)
	assert.Equal(t, []string{"quantum computing"}, res.Rounds[0].Queries)
	assert.Equal(t, []string{"quantum error correction"}, res.Rounds[1].Queries)
	assert.Equal(t, []string{"https://q1.example", "https://q2.example", "https://q3.example", "https://q4.example"}, res.Sources)
	assert.False(t, res.Timestamp.IsZero())

	// q1 appears in both rounds but is fetched once.
	assert.Equal(t, 1, fetcher.count("https://q1.example"))
	assert.Equal(t, 1, res.Rounds[1].Stats.CacheHits)
	// q4 failed to fetch and falls back to its snippet.
	assert.Equal(t, 1, res.Rounds[1].Stats.FetchFailed)

	assert.Equal(t, res.Sources, analyzer.synthSrc)
	assert.Len(t, analyzer.synthRounds, 2)
}

func TestConductResearchSourcesAreUnionOfRounds(t *testing.T) {
	provider := newFakeProvider().
		on("topic", result("A", "https://a.example"), result("B", "https://b.example")).
		on("follow one", result("B", "https://b.example"), result("C", "https://c.example")).
		on("follow two", result("D", "https://d.example"))
	analyzer := &fakeAnalyzer{followUps: [][]string{{"follow one"}, {"follow two"}}}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "topic", 3, nil)
	require.NoError(t, err)

	union := map[string]bool{}
	for _, round := range res.Rounds {
		for _, r := range round.SearchResults {
			union[r.URL] = true
		}
	}
	assert.Len(t, res.Sources, len(union))
	for _, s := range res.Sources {
		assert.True(t, union[s], s)
	}
	assert.Equal(t, 3, res.TotalRounds)
}

func TestConductResearchStopsWhenFollowUpsAreEmpty(t *testing.T) {
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	analyzer := &fakeAnalyzer{}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "topic", 3, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRounds)
	assert.Equal(t, []string{"topic"}, provider.queries())
}

func TestConductResearchStopsOnRepeatedQueries(t *testing.T) {
	provider := newFakeProvider().on("Quantum Computing", result("A", "https://a.example"))
	analyzer := &fakeAnalyzer{followUps: [][]string{{"quantum   computing", " QUANTUM COMPUTING "}}}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "Quantum Computing", 3, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRounds)
	assert.Len(t, provider.queries(), 1)
}

func TestConductResearchCapsFollowUps(t *testing.T) {
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	for _, q := range []string{"f1", "f2", "f3", "f4", "f5"} {
		provider.on(q, result(q, "https://"+q+".example"))
	}
	analyzer := &fakeAnalyzer{followUps: [][]string{{"f1", "f2", "f2", "f3", "f4", "f5"}}}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "topic", 2, nil)

	require.NoError(t, err)
	require.Len(t, res.Rounds, 2)
	assert.Equal(t, []string{"f1", "f2", "f3"}, res.Rounds[1].Queries)
}

func TestConductResearchFirstRoundWithoutResultsAborts(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		wantErr  error
	}{
		{
			name:     "all queries failed",
			provider: newFakeProvider().fail("topic", &ProviderError{Provider: "fake", Status: 500}),
			wantErr:  ErrAllQueriesFailed,
		},
		{
			name:     "no results",
			provider: newFakeProvider(),
			wantErr:  ErrNoResults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &fakeAnalyzer{}
			res, err := newTestOrchestrator(tt.provider, newFakeFetcher(), analyzer).
				ConductResearch(context.Background(), "topic", 3, nil)

			assert.Nil(t, res)
			var failure *ResearchFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, 1, failure.Round)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, KindSessionAbort, Classify(err))
			assert.Nil(t, analyzer.synthRounds, "synthesis must not run")
		})
	}
}

func TestConductResearchLaterRoundFailureStillSynthesizes(t *testing.T) {
	provider := newFakeProvider().
		on("topic", result("A", "https://a.example")).
		fail("follow", errBoom)
	analyzer := &fakeAnalyzer{followUps: [][]string{{"follow"}, {"never used"}}}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "topic", 3, nil)

	require.NoError(t, err)
	require.Len(t, res.Rounds, 2)
	assert.Empty(t, res.Rounds[1].SearchResults)
	assert.True(t, res.Rounds[1].Analysis.Degraded)
	assert.Equal(t, 1, res.Rounds[1].Stats.QueriesFailed)
	assert.Equal(t, []string{"https://a.example"}, res.Sources)
	assert.NotContains(t, provider.queries(), "never used")
}

func TestConductResearchAnalyzerFailureDegrades(t *testing.T) {
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	analyzer := &fakeAnalyzer{analyzeErr: errBoom}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "topic", 1, nil)

	require.NoError(t, err)
	assert.True(t, res.Rounds[0].Analysis.Degraded)
	assert.Equal(t, []string{"A: snippet for A"}, res.Rounds[0].Analysis.KeyPoints)
}

func TestConductResearchFollowUpErrorEndsSearch(t *testing.T) {
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	analyzer := &fakeAnalyzer{followErr: errBoom}

	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(context.Background(), "topic", 3, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRounds)
}

func TestConductResearchSynthesisFailure(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *fakeAnalyzer
	}{
		{"error", &fakeAnalyzer{synthErr: errBoom}},
		{"blank report", &fakeAnalyzer{report: "   \n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider().on("topic", result("A", "https://a.example"))
			res, err := newTestOrchestrator(provider, newFakeFetcher(), tt.analyzer).
				ConductResearch(context.Background(), "topic", 1, nil)

			assert.Nil(t, res)
			var failure *ResearchFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, "could not synthesize the final report", failure.Reason)
		})
	}
}

func TestConductResearchEmptyTopic(t *testing.T) {
	_, err := newTestOrchestrator(newFakeProvider(), newFakeFetcher(), &fakeAnalyzer{}).
		ConductResearch(context.Background(), "   ", 3, nil)
	var failure *ResearchFailure
	require.ErrorAs(t, err, &failure)
}

func TestConductResearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	res, err := newTestOrchestrator(provider, newFakeFetcher(), &fakeAnalyzer{}).
		ConductResearch(ctx, "topic", 3, nil)

	assert.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
	var failure *ResearchFailure
	assert.False(t, errors.As(err, &failure))
}

func TestConductResearchCancelledDuringRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	analyzer := &fakeAnalyzer{followUps: [][]string{{"next"}}}

	obs := ObserverFunc(func(e Event) {
		if e.Phase == PhaseAnalyzing {
			cancel()
		}
	})
	res, err := newTestOrchestrator(provider, newFakeFetcher(), analyzer).
		ConductResearch(ctx, "topic", 3, obs)

	assert.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, analyzer.synthRounds)
}

func TestConductResearchEmitsPhases(t *testing.T) {
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	rec := &recorder{}

	_, err := newTestOrchestrator(provider, newFakeFetcher(), &fakeAnalyzer{}).
		ConductResearch(context.Background(), "topic", 2, rec)
	require.NoError(t, err)

	assert.Equal(t, []Phase{
		PhaseInit, PhaseSearching, PhaseExtracting, PhaseAnalyzing, PhaseDeciding, PhaseSynthesizing, PhaseDone,
	}, rec.phases())
	for _, e := range rec.events {
		assert.Equal(t, 2, e.MaxRounds)
	}
}

func TestConductResearchIgnoresPanickingObserver(t *testing.T) {
	provider := newFakeProvider().on("topic", result("A", "https://a.example"))
	obs := ObserverFunc(func(Event) { panic("observer bug") })

	res, err := newTestOrchestrator(provider, newFakeFetcher(), &fakeAnalyzer{}).
		ConductResearch(context.Background(), "topic", 1, obs)

	require.NoError(t, err)
	assert.NotEmpty(t, res.FinalReport)
}

type expandingAnalyzer struct {
	fakeAnalyzer
	paraphrases []string
}

func (e *expandingAnalyzer) ExpandTopic(_ context.Context, _ string, n int) ([]string, error) {
	if len(e.paraphrases) > n {
		return e.paraphrases[:n], nil
	}
	return e.paraphrases, nil
}

func TestConductResearchQueryExpansion(t *testing.T) {
	provider := newFakeProvider().
		on("topic", result("A", "https://a.example")).
		on("topic overview", result("B", "https://b.example"))
	analyzer := &expandingAnalyzer{paraphrases: []string{"Topic", "topic overview"}}

	opts := testOptions()
	opts.QueryExpansions = 2
	o := NewOrchestrator(provider, newFakeFetcher(), analyzer, opts, discardLogger())
	res, err := o.ConductResearch(context.Background(), "topic", 1, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"topic", "topic overview"}, res.Rounds[0].Queries)
	assert.Len(t, res.Sources, 2)
}
