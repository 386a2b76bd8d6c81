package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_started_total",
			Help: "Total number of research sessions started",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_completed_total",
			Help: "Total number of research sessions finished, by status",
		},
		[]string{"status"},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_session_duration_seconds",
			Help:    "Research session duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	RoundsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_rounds_completed_total",
			Help: "Total number of sealed research rounds",
		},
	)

	// I/O metrics
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_searches_total",
			Help: "Search provider calls, by outcome",
		},
		[]string{"status"},
	)

	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_fetches_total",
			Help: "Page fetches, by outcome",
		},
		[]string{"status"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_url_cache_hits_total",
			Help: "URL lookups answered by the session cache",
		},
	)

	AnalyzerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_analyzer_calls_total",
			Help: "AI completion calls, by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	// AbsorbedErrors counts failures that degraded a round instead of aborting it.
	AbsorbedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_absorbed_errors_total",
			Help: "Failures absorbed inside a round, by stage and kind",
		},
		[]string{"stage", "kind"},
	)
)
