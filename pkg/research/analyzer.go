package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

var errMalformedResponse = errors.New("malformed model response")

// LLMAnalyzer implements Analyzer on top of a langchaingo model. Every
// operation is a single completion call retried under Retry.
type LLMAnalyzer struct {
	LLM          llms.Model
	Retry        RetryPolicy
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	MaxFollowUps int
	// MaxResults bounds the results serialized into the analysis prompt.
	MaxResults int
	// MaxExcerpts bounds how many page contents are quoted, each cut to ExcerptLength.
	MaxExcerpts   int
	ExcerptLength int
	JSONMode      bool
	Logger        *slog.Logger

	excerpts *splitter.TextSplitter
}

// NewLLMAnalyzer returns an analyzer with the defaults used by the CLI and server.
func NewLLMAnalyzer(llm llms.Model, logger *slog.Logger) *LLMAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMAnalyzer{
		LLM:           llm,
		Retry:         DefaultAnalyzerPolicy(),
		Temperature:   0.7,
		MaxTokens:     4000,
		Timeout:       2 * time.Minute,
		MaxFollowUps:  3,
		MaxResults:    10,
		MaxExcerpts:   5,
		ExcerptLength: 500,
		JSONMode:      true,
		Logger:        logger,
		excerpts:      splitter.NewRecursiveCharacterTextSplitter(500, 0),
	}
}

// generate performs one completion call, retrying backend errors and
// responses rejected by validate.
func (a *LLMAnalyzer) generate(ctx context.Context, op, system, user string, jsonMode bool, validate func(string) error) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(a.Temperature)}
	if a.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(a.MaxTokens))
	}
	if jsonMode && a.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}

	content, err := Retry(ctx, a.Retry, a.Logger, op, func(ctx context.Context) (string, error) {
		callCtx := ctx
		if a.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, a.Timeout)
			defer cancel()
		}

		resp, err := a.LLM.GenerateContent(callCtx, []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, user),
		}, opts...)
		if err != nil {
			return "", fmt.Errorf("llm generation failed: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices", errMalformedResponse)
		}

		content := resp.Choices[0].Content
		if err := validate(content); err != nil {
			return "", fmt.Errorf("%w: %w", errMalformedResponse, err)
		}
		return content, nil
	})
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues(op, "failed").Inc()
		return "", err
	}
	metrics.AnalyzerCalls.WithLabelValues(op, "ok").Inc()
	return content, nil
}

// Analyze extracts key points and gaps from a round's results. When the
// backend keeps failing it degrades to PassThroughAnalysis and returns no error.
func (a *LLMAnalyzer) Analyze(ctx context.Context, query string, results []SearchResult) (Analysis, error) {
	a.Logger.Info("Analyzing search results", "query", query, "results", len(results))

	var analysis Analysis
	_, err := a.generate(ctx, "analyze",
		analyzeSystemPrompt+"\n\n# Response Format:\n"+analysisSchema(),
		a.analysisInput(query, results),
		true,
		func(content string) error {
			analysis = Analysis{}
			if err := decodeJSON(content, &analysis); err != nil {
				return fmt.Errorf("json parse error: %w", err)
			}
			if len(analysis.KeyPoints) == 0 && analysis.Summary == "" {
				return errors.New("analysis has neither findings nor summary")
			}
			return nil
		})
	if err != nil {
		a.Logger.Warn("Analysis failed, passing results through", "query", query, "error", err)
		metrics.AbsorbedErrors.WithLabelValues("analyze", Classify(err).String()).Inc()
		return PassThroughAnalysis(results), nil
	}

	analysis.KeyPoints = cleanList(analysis.KeyPoints, 0)
	analysis.Gaps = cleanList(analysis.Gaps, 0)
	analysis.Topics = cleanList(analysis.Topics, 0)
	a.Logger.Info("Analysis complete", "key_findings", len(analysis.KeyPoints), "gaps", len(analysis.Gaps))
	return analysis, nil
}

func (a *LLMAnalyzer) analysisInput(query string, results []SearchResult) string {
	type promptResult struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	}
	listed := results
	if a.MaxResults > 0 && len(listed) > a.MaxResults {
		listed = listed[:a.MaxResults]
	}
	items := make([]promptResult, 0, len(listed))
	for _, r := range listed {
		items = append(items, promptResult{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	resultsJSON, _ := json.MarshalIndent(items, "", "  ")

	var contents strings.Builder
	quoted := 0
	for _, r := range results {
		if !r.HasContent() {
			continue
		}
		if a.MaxExcerpts > 0 && quoted >= a.MaxExcerpts {
			break
		}
		if quoted == 0 {
			contents.WriteString("\n\n### Page contents:\n")
		}
		fmt.Fprintf(&contents, "\n**URL**: %s\n**Content**: %s...\n", r.URL, a.excerpt(r.Content))
		quoted++
	}

	return fmt.Sprintf(`Analyze the following search results and extract the key information and main findings.

**Query**: %s

**Search results**:
%s
%s`, query, resultsJSON, contents.String())
}

// excerpt returns the first chunk of text, split on paragraph and sentence
// boundaries where possible.
func (a *LLMAnalyzer) excerpt(text string) string {
	size := a.ExcerptLength
	if size <= 0 {
		size = 500
	}
	ts := a.excerpts
	if ts == nil || ts.Size() != size {
		ts = splitter.NewRecursiveCharacterTextSplitter(size, 0)
	}
	return ts.Excerpt(text)
}

// ProposeFollowUps asks the model for deeper queries, ranked. An empty slice
// means the research has converged. When the model cannot be used the
// analysis gaps become the follow-ups. The list is not capped here: the
// orchestrator drops already issued queries first and then applies
// MaxFollowUps.
func (a *LLMAnalyzer) ProposeFollowUps(ctx context.Context, topic string, analysis Analysis) ([]string, error) {
	limit := a.MaxFollowUps
	if limit <= 0 {
		limit = 3
	}
	findings, _ := json.MarshalIndent(analysis.KeyPoints, "", "  ")
	gaps, _ := json.MarshalIndent(analysis.Gaps, "", "  ")

	input := fmt.Sprintf(`Based on the research progress below, generate up to %d deeper search queries that fill the information gaps.

**Original topic**: %s

**Current findings**:
%s

**Information gaps**:
%s

**Requirements**:
1. Queries should be more specific and go deeper.
2. Avoid repeating information that is already known.
3. Focus on the gaps and unexplored angles.
4. Keep every query short and precise.
5. Return an empty list if the topic is sufficiently covered.`, limit, topic, findings, gaps)

	var queries []string
	_, err := a.generate(ctx, "follow_ups",
		followUpSystemPrompt+"\n\n# Response Format:\n"+queriesSchema("Follow-up search queries ranked by relevance"),
		input,
		true,
		func(content string) error {
			parsed, err := parseQueries(content)
			if err != nil {
				return err
			}
			queries = parsed
			return nil
		})
	if err != nil {
		a.Logger.Warn("Could not generate follow-up queries, using gaps", "error", err)
		metrics.AbsorbedErrors.WithLabelValues("follow_ups", Classify(err).String()).Inc()
		return cleanList(analysis.Gaps, 0), nil
	}

	queries = cleanList(queries, 0)
	a.Logger.Info("Generated follow-up queries", "queries", queries)
	return queries, nil
}

// ExpandTopic paraphrases the topic into n alternative queries.
func (a *LLMAnalyzer) ExpandTopic(ctx context.Context, topic string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var queries []string
	_, err := a.generate(ctx, "expand",
		expandSystemPrompt+"\n\n# Response Format:\n"+queriesSchema(fmt.Sprintf("List of %d alternative search queries", n)),
		fmt.Sprintf("Topic: %s\nNumber of queries: %d", topic, n),
		true,
		func(content string) error {
			parsed, err := parseQueries(content)
			if err != nil {
				return err
			}
			if len(parsed) == 0 {
				return errors.New("empty queries list")
			}
			queries = parsed
			return nil
		})
	if err != nil {
		return nil, err
	}
	return cleanList(queries, n), nil
}

// Synthesize writes the final Markdown report. A References section listing
// every source is appended when the model left it out.
func (a *LLMAnalyzer) Synthesize(ctx context.Context, topic string, rounds []ResearchRound, sources []string) (string, error) {
	a.Logger.Info("Compiling final report", "topic", topic, "rounds", len(rounds), "sources", len(sources))

	var summary strings.Builder
	for _, round := range rounds {
		fmt.Fprintf(&summary, "\n### Round %d\n", round.RoundNumber)
		fmt.Fprintf(&summary, "**Queries**: %s\n", strings.Join(round.Queries, ", "))
		if round.Analysis.Summary != "" {
			fmt.Fprintf(&summary, "**Summary**: %s\n", round.Analysis.Summary)
		}
		if len(round.Analysis.KeyPoints) > 0 {
			summary.WriteString("**Key findings**:\n")
			points := round.Analysis.KeyPoints
			if len(points) > 5 {
				points = points[:5]
			}
			for _, p := range points {
				fmt.Fprintf(&summary, "- %s\n", p)
			}
		}
	}

	var sourceList strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&sourceList, "%d. %s\n", i+1, s)
	}

	input := fmt.Sprintf(`Write a comprehensive research report based on the multi-round research data below.

**Research topic**: %s

**Research data**:
%s

**Sources**:
%s

%s`, topic, summary.String(), sourceList.String(), reportInstructions)

	report, err := a.generate(ctx, "synthesize", synthesizeSystemPrompt, input, false, func(content string) error {
		if strings.TrimSpace(content) == "" {
			return ErrEmptyReport
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}

	report = ensureReferences(report, sources)
	a.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}

// PassThroughAnalysis is the degraded analysis used when the model is unavailable.
func PassThroughAnalysis(results []SearchResult) Analysis {
	points := make([]string, 0, len(results))
	for _, r := range results {
		text := strings.TrimSpace(r.Snippet)
		if text == "" {
			text = truncateRunes(strings.TrimSpace(r.Content), 300)
		}
		if text == "" {
			continue
		}
		if r.Title != "" {
			text = r.Title + ": " + text
		}
		points = append(points, text)
	}
	return Analysis{KeyPoints: points, Gaps: []string{}, Degraded: true}
}

func ensureReferences(report string, sources []string) string {
	lower := strings.ToLower(report)
	if len(sources) == 0 || strings.Contains(lower, "## references") || strings.Contains(lower, "## sources") {
		return report
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(report, "\n"))
	b.WriteString("\n\n## References\n\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func decodeJSON(content string, v any) error {
	return json.Unmarshal([]byte(stripCodeFence(content)), v)
}

// parseQueries accepts either {"queries": [...]} or a bare JSON array.
func parseQueries(content string) ([]string, error) {
	raw := stripCodeFence(content)
	var wrapped struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		return wrapped.Queries, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("json parse error: %w", err)
	}
	return list, nil
}

// cleanList trims entries, drops empty ones and caps the length (0 = no cap).
func cleanList(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// truncateRunes cuts s to at most n runes without splitting UTF-8 sequences.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
