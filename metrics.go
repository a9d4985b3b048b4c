package tagcache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "lookups_total",
		Help:      "Total number of cache lookups by result (fresh, stale, expired, miss)",
	}, []string{"result"})
	populatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "populates_total",
		Help:      "Total number of successful synchronous populates",
	})
	revalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "revalidations_total",
		Help:      "Total number of background revalidations started",
	})
	revalidationsDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "revalidations_discarded_total",
		Help:      "Total number of revalidation results discarded after losing a generation race",
	})
	producerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "producer_errors_total",
		Help:      "Total number of producer failures by mode (populate, revalidate)",
	}, []string{"mode"})
	invalidatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "invalidated_entries_total",
		Help:      "Total number of entries expired by explicit invalidation, by trigger (tag, key)",
	}, []string{"via"})
	sweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tag_cache",
		Name:      "swept_entries_total",
		Help:      "Total number of expired entries removed by the sweep loop",
	})
)

// registerMetrics initializes metrics with the global Prometheus registry.
// Idempotent, so multiple cache instances can coexist in one process.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			lookupsTotal, populatesTotal,
			revalidationsTotal, revalidationsDiscardedTotal,
			producerErrorsTotal, invalidatedTotal, sweptTotal,
		)
	})
}
