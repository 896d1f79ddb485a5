// Package metrics exposes Prometheus instruments for the cache, the
// fallback tiers, and the write queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "questionnaire_cache_hits_total",
		Help: "Fast-cache hits by entity key type.",
	}, []string{"entity"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "questionnaire_cache_misses_total",
		Help: "Fast-cache misses by entity key type.",
	}, []string{"entity"})

	TierHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "questionnaire_fallback_tier_hits_total",
		Help: "Degraded reads served per fallback tier.",
	}, []string{"tier"})

	TierFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "questionnaire_fallback_tier_failures_total",
		Help: "Fallback tier calls that failed and were skipped.",
	}, []string{"tier"})

	UnavailableReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "questionnaire_unavailable_reads_total",
		Help: "Degraded reads where no tier had data.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "questionnaire_write_queue_depth",
		Help: "Write operations currently queued for replay.",
	})

	QueuedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "questionnaire_queued_writes_total",
		Help: "Writes accepted while the primary store was unavailable.",
	})

	ReplayedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "questionnaire_replayed_writes_total",
		Help: "Queued writes successfully replayed against the primary store.",
	})

	ReplayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "questionnaire_replay_failures_total",
		Help: "Replay attempts that failed and left the operation queued.",
	})

	HealthTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "questionnaire_health_transitions_total",
		Help: "Primary-store health transitions observed by the probe.",
	}, []string{"to"})
)
