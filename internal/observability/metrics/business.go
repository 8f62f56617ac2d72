package metrics

import "time"

// RecordIngestBatch records the outcome of one reconciler batch.
func RecordIngestBatch(origin string, inserted, merged, dropped int) {
	if inserted > 0 {
		ArticlesIngestedTotal.WithLabelValues(origin, "inserted").Add(float64(inserted))
	}
	if merged > 0 {
		ArticlesIngestedTotal.WithLabelValues(origin, "merged").Add(float64(merged))
	}
	if dropped > 0 {
		ArticlesDroppedTotal.WithLabelValues(origin).Add(float64(dropped))
	}
}

// UpdateReconciledArticles updates the reconciled set size gauge.
func UpdateReconciledArticles(count int) {
	ReconciledArticles.Set(float64(count))
}

// RecordSubscriptionState marks the current subscription state. All other
// states are zeroed so dashboards can sum the vector.
func RecordSubscriptionState(current string, all []string) {
	for _, state := range all {
		value := 0.0
		if state == current {
			value = 1.0
		}
		SubscriptionState.WithLabelValues(state).Set(value)
	}
}

// RecordPollCycle records one poll tick. Result is "fetched", "skipped" or
// "failed".
func RecordPollCycle(result string) {
	PollCyclesTotal.WithLabelValues(result).Inc()
}

// RecordPushEvent records one received push event by type.
func RecordPushEvent(eventType string) {
	PushEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordCacheHit records which tier satisfied a cache lookup: "local",
// "durable" or "computed".
func RecordCacheHit(tier string) {
	CacheRequestsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheEviction records local-tier evictions by reason ("ttl" or "size").
func RecordCacheEviction(reason string, count int) {
	if count > 0 {
		CacheEvictionsTotal.WithLabelValues(reason).Add(float64(count))
	}
}

// UpdateCacheEntries updates the local cache size gauge.
func UpdateCacheEntries(count int) {
	CacheEntries.Set(float64(count))
}

// RecordAnalysis records one expensive analysis call.
func RecordAnalysis(duration time.Duration, success bool) {
	AnalysisDuration.Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "failure"
	}
	AnalysisTotal.WithLabelValues(status).Inc()
}

// RecordUpstreamAvailability updates the upstream availability gauge.
func RecordUpstreamAvailability(available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	UpstreamAvailable.Set(value)
}
