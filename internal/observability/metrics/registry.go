// Package metrics provides centralized Prometheus metrics for the feed
// reconciliation core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics track the reconciler's view of the merged stream.
var (
	// ArticlesIngestedTotal counts articles applied to the reconciled set,
	// by delivery origin and outcome (inserted or merged).
	ArticlesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articles_ingested_total",
			Help: "Articles applied to the reconciled set by origin and outcome",
		},
		[]string{"origin", "outcome"},
	)

	// ArticlesDroppedTotal counts records dropped because no identity could
	// be derived for them.
	ArticlesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articles_dropped_total",
			Help: "Unidentifiable records dropped during ingestion",
		},
		[]string{"origin"},
	)

	// ReconciledArticles tracks the current size of the reconciled set.
	ReconciledArticles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciled_articles",
			Help: "Current number of reconciled articles",
		},
	)
)

// Subscription metrics track the push channel and poll fallback.
var (
	// SubscriptionState reports the feed subscription state machine as a
	// gauge per state (1 for the active state, 0 otherwise).
	SubscriptionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_subscription_state",
			Help: "Feed subscription state (1 for the current state)",
		},
		[]string{"state"},
	)

	// PollCyclesTotal counts poll ticks by result: fetched, skipped (push
	// healthy) or failed.
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_poll_cycles_total",
			Help: "Poll loop cycles by result",
		},
		[]string{"result"},
	)

	// PushEventsTotal counts push events received by event type.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_push_events_total",
			Help: "Push channel events received by type",
		},
		[]string{"type"},
	)
)

// Cache metrics track the two-tier analysis cache.
var (
	// CacheRequestsTotal counts cache lookups by tier that satisfied them:
	// local, durable or computed.
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_cache_requests_total",
			Help: "Analysis cache lookups by satisfying tier",
		},
		[]string{"tier"},
	)

	// CacheEvictionsTotal counts local-tier evictions by reason (ttl, size).
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_cache_evictions_total",
			Help: "Local cache evictions by reason",
		},
		[]string{"reason"},
	)

	// CacheEntries tracks the current local-tier size.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analysis_cache_entries",
			Help: "Current number of local cache entries",
		},
	)
)

// Analysis metrics track the expensive analysis call.
var (
	// AnalysisDuration measures the expensive analysis call duration.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Expensive analysis call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	// AnalysisTotal counts analysis calls by status (success or failure).
	AnalysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_total",
			Help: "Expensive analysis calls by status",
		},
		[]string{"status"},
	)
)

// Upstream health metrics.
var (
	// UpstreamAvailable reports the last known upstream availability.
	UpstreamAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_available",
			Help: "Last known upstream service availability (1 available, 0 not)",
		},
	)
)
