package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_research_workflows_started_total",
			Help: "Total number of research workflows started",
		},
		[]string{"depth"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_research_workflows_completed_total",
			Help: "Total number of research workflows finished",
		},
		[]string{"depth", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_research_workflow_duration_seconds",
			Help:    "End-to-end research workflow duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 300},
		},
		[]string{"depth"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_research_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)

	// Completion Service metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_research_llm_requests_total",
			Help: "Total completion requests by task, backend and outcome",
		},
		[]string{"task", "backend", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_research_llm_latency_seconds",
			Help:    "Completion request latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"task", "backend"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_research_llm_retries_total",
			Help: "Completion attempts retried after a transient failure",
		},
		[]string{"task", "backend"},
	)

	LLMRateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_research_llm_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the requests-per-minute limiter",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend"},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_research_search_requests_total",
			Help: "Search provider requests by outcome",
		},
		[]string{"provider", "status"},
	)

	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_research_search_results",
			Help:    "Hits returned per provider request after filtering",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shannon_research_search_latency_seconds",
			Help:    "Search provider latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_research_search_cache_hits_total",
			Help: "Search cache hits",
		},
	)

	SearchCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_research_search_cache_misses_total",
			Help: "Search cache misses",
		},
	)

	// Pipeline output metrics
	FindingsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_research_findings_extracted_total",
			Help: "Findings extracted from search hits",
		},
	)

	FactsVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_research_facts_verified_total",
			Help: "Verified facts by verification path",
		},
		[]string{"path"}, // cross_referenced, single_source, fallback
	)

	DiscrepanciesFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_research_discrepancies_total",
			Help: "Discrepancies recorded between sources",
		},
	)

	SectionsUnderMinimum = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_research_sections_under_min_words_total",
			Help: "Report sections generated below the configured word minimum",
		},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shannon_research_sessions_active",
			Help: "Research requests currently held in the session store",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shannon_research_sessions_evicted_total",
			Help: "Finished research requests evicted by retention",
		},
	)
)
