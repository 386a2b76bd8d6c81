package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Orchestrator owns the round-by-round research state machine.
type Orchestrator struct {
	Executor *RoundExecutor
	Analyzer Analyzer
	Options  Options
	Logger   *slog.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(provider SearchProvider, fetcher Fetcher, analyzer Analyzer, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		Executor: NewRoundExecutor(provider, fetcher, opts, logger),
		Analyzer: analyzer,
		Options:  opts,
		Logger:   logger,
		Now:      time.Now,
	}
}

// session is the mutable state of one ConductResearch call.
type session struct {
	topic     string
	maxRounds int
	cache     *URLCache
	issued    map[string]bool
	rounds    []ResearchRound
	sources   []string
	seen      map[string]bool
	observer  Observer
}

func (s *session) addSources(results []SearchResult) {
	for _, r := range results {
		if r.URL == "" || s.seen[r.URL] {
			continue
		}
		s.seen[r.URL] = true
		s.sources = append(s.sources, r.URL)
	}
}

func (s *session) markIssued(queries []string) {
	for _, q := range queries {
		s.issued[normalizeQuery(q)] = true
	}
}

// freshQueries drops queries already issued this session and repeats within
// the list itself.
func (s *session) freshQueries(candidates []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range candidates {
		q = strings.TrimSpace(q)
		key := normalizeQuery(q)
		if key == "" || s.issued[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// ConductResearch runs a full session. maxRounds <= 0 uses the configured
// default. The only errors are a *ResearchFailure (nothing found in round 1,
// or synthesis failed) and context cancellation.
func (o *Orchestrator) ConductResearch(ctx context.Context, topic string, maxRounds int, observer Observer) (*ResearchResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, &ResearchFailure{Reason: "topic cannot be empty"}
	}
	if maxRounds <= 0 {
		maxRounds = o.Options.MaxRounds
	}

	start := o.now()
	metrics.SessionsStarted.Inc()
	result, err := o.run(ctx, topic, maxRounds, observer)
	metrics.SessionDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metrics.SessionsCompleted.WithLabelValues("completed").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.SessionsCompleted.WithLabelValues("cancelled").Inc()
	default:
		metrics.SessionsCompleted.WithLabelValues("failed").Inc()
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, topic string, maxRounds int, observer Observer) (*ResearchResult, error) {
	s := &session{
		topic:     topic,
		maxRounds: maxRounds,
		cache:     NewURLCache(),
		issued:    make(map[string]bool),
		seen:      make(map[string]bool),
		observer:  observer,
	}
	o.Logger.Info("Starting research loop", "topic", topic, "max_rounds", maxRounds)

	queries := o.seedQueries(ctx, s)
	o.emit(s, 0, PhaseInit, fmt.Sprintf("Researching %q", topic), len(queries), 0)

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			o.Logger.Info("Research cancelled", "round", round, "error", err)
			return nil, fmt.Errorf("research cancelled before round %d: %w", round, err)
		}

		sealed, ok, err := o.runRound(ctx, s, round, queries)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		next := o.decide(ctx, s, sealed)
		if len(next) == 0 {
			break
		}
		queries = next
	}

	return o.synthesize(ctx, s)
}

// seedQueries returns the round-1 queries: the topic, plus paraphrases when
// expansion is enabled and supported.
func (o *Orchestrator) seedQueries(ctx context.Context, s *session) []string {
	queries := []string{s.topic}
	expander, ok := o.Analyzer.(QueryExpander)
	if o.Options.QueryExpansions <= 0 || !ok {
		return queries
	}
	extra, err := expander.ExpandTopic(ctx, s.topic, o.Options.QueryExpansions)
	if err != nil {
		o.Logger.Warn("Topic expansion failed, searching the topic only", "error", err)
		return queries
	}
	seen := map[string]bool{normalizeQuery(s.topic): true}
	for _, q := range extra {
		key := normalizeQuery(q)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, strings.TrimSpace(q))
		if len(queries) > o.Options.QueryExpansions {
			break
		}
	}
	return queries
}

// runRound executes and seals one round. ok is false when the session must
// stop searching (all queries failed after round 1, or cancellation).
func (o *Orchestrator) runRound(ctx context.Context, s *session, number int, queries []string) (ResearchRound, bool, error) {
	o.Logger.Info("Starting round", "round", number, "max", s.maxRounds, "queries", queries)
	s.markIssued(queries)
	round := ResearchRound{RoundNumber: number, Queries: queries}

	o.emit(s, number, PhaseSearching, fmt.Sprintf("Round %d/%d: searching %d queries", number, s.maxRounds, len(queries)), len(queries), 0)
	results, stats, err := o.Executor.SearchStage(ctx, queries, o.Options.MaxConcurrency)
	if err != nil && ctx.Err() != nil {
		return round, false, fmt.Errorf("research cancelled in round %d: %w", number, ctx.Err())
	}
	if number == 1 && (err != nil || len(results) == 0) {
		reason := "no usable search results in the first round"
		if err == nil {
			err = ErrNoResults
		}
		o.Logger.Error("Aborting research", "topic", s.topic, "error", err)
		return round, false, &ResearchFailure{Topic: s.topic, Round: number, Reason: reason, Err: err}
	}
	if err != nil {
		// A later round with nothing found is sealed empty and ends the search.
		o.Logger.Warn("Round produced no results", "round", number, "error", err)
		round.Stats = stats
		round.Analysis = Analysis{KeyPoints: []string{}, Gaps: []string{}, Degraded: true}
		s.rounds = append(s.rounds, round)
		metrics.RoundsCompleted.Inc()
		return round, false, nil
	}

	o.emit(s, number, PhaseExtracting, fmt.Sprintf("Round %d/%d: extracting %d pages", number, s.maxRounds, len(results)), len(queries), len(results))
	fetchStats := o.Executor.ExtractStage(ctx, results, s.cache, o.Options.MaxConcurrency)
	stats.Fetched, stats.FetchFailed, stats.CacheHits = fetchStats.Fetched, fetchStats.FetchFailed, fetchStats.CacheHits
	o.Logger.Info("Extraction complete", "round", number, "fetched", stats.Fetched, "failed", stats.FetchFailed, "cache_hits", stats.CacheHits)

	o.emit(s, number, PhaseAnalyzing, fmt.Sprintf("Round %d/%d: analyzing", number, s.maxRounds), len(queries), len(results))
	analysis, err := o.Analyzer.Analyze(ctx, queries[0], results)
	if err != nil {
		o.Logger.Warn("Analyzer failed, passing results through", "round", number, "error", err)
		metrics.AbsorbedErrors.WithLabelValues("analyze", Classify(err).String()).Inc()
		analysis = PassThroughAnalysis(results)
	}

	round.SearchResults = results
	round.Analysis = analysis
	round.Stats = stats
	s.rounds = append(s.rounds, round)
	s.addSources(results)
	metrics.RoundsCompleted.Inc()
	o.Logger.Info("Round sealed", "round", number, "results", len(results), "sources", len(s.sources))

	if ctx.Err() != nil {
		return round, false, fmt.Errorf("research cancelled after round %d: %w", number, ctx.Err())
	}
	return round, true, nil
}

// decide returns the next round's queries, or nil to move to synthesis.
func (o *Orchestrator) decide(ctx context.Context, s *session, round ResearchRound) []string {
	o.emit(s, round.RoundNumber, PhaseDeciding, fmt.Sprintf("Round %d/%d: deciding whether to continue", round.RoundNumber, s.maxRounds), len(round.Queries), len(round.SearchResults))
	if round.RoundNumber >= s.maxRounds {
		o.Logger.Info("Reached maximum rounds", "rounds", round.RoundNumber)
		return nil
	}

	proposed, err := o.Analyzer.ProposeFollowUps(ctx, s.topic, round.Analysis)
	if err != nil {
		o.Logger.Warn("Follow-up generation failed, stopping", "round", round.RoundNumber, "error", err)
		metrics.AbsorbedErrors.WithLabelValues("follow_ups", Classify(err).String()).Inc()
		return nil
	}
	next := s.freshQueries(proposed, o.Options.MaxFollowUps)
	if len(next) == 0 {
		o.Logger.Info("No new follow-up queries, research converged", "round", round.RoundNumber, "proposed", len(proposed))
		return nil
	}
	return next
}

func (o *Orchestrator) synthesize(ctx context.Context, s *session) (*ResearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("research cancelled before synthesis: %w", err)
	}
	last := len(s.rounds)
	o.emit(s, last, PhaseSynthesizing, "Generating final report", 0, 0)

	report, err := o.Analyzer.Synthesize(ctx, s.topic, s.rounds, s.sources)
	if err == nil && strings.TrimSpace(report) == "" {
		err = ErrEmptyReport
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("research cancelled during synthesis: %w", ctx.Err())
		}
		o.Logger.Error("Synthesis failed", "topic", s.topic, "error", err)
		return nil, &ResearchFailure{Topic: s.topic, Round: last, Reason: "could not synthesize the final report", Err: err}
	}

	result := &ResearchResult{
		Topic:       s.topic,
		FinalReport: report,
		Rounds:      s.rounds,
		Sources:     s.sources,
		Timestamp:   o.now(),
		TotalRounds: len(s.rounds),
	}
	o.emit(s, last, PhaseDone, fmt.Sprintf("Research complete: %d rounds, %d sources", last, len(s.sources)), 0, 0)
	o.Logger.Info("Research complete", "topic", s.topic, "rounds", last, "sources", len(s.sources))
	return result, nil
}

func (o *Orchestrator) emit(s *session, round int, phase Phase, msg string, queries, results int) {
	notify(s.observer, Event{
		Round:     round,
		MaxRounds: s.maxRounds,
		Phase:     phase,
		Message:   msg,
		Queries:   queries,
		Results:   results,
		Sources:   len(s.sources),
		Time:      o.now(),
	}, o.Logger)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
