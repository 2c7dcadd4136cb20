package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "capnet"

var (
	storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Store facade operations by backend, operation and result.",
		},
		[]string{"backend", "op", "result"},
	)

	trustCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_cache_lookups_total",
			Help:      "Reputation cache lookups by outcome (hit, miss).",
		},
		[]string{"outcome"},
	)

	reputationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_lookups_total",
			Help:      "Reputation lookups by result status (ok, error, off).",
		},
		[]string{"status"},
	)

	trustEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_events_total",
			Help:      "Trust events by type and delivery result.",
		},
		[]string{"type", "result"},
	)

	trustEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_events_dropped_total",
			Help:      "Trust events discarded because the dispatch queue was full or closed.",
		},
	)
)

// StoreOp records one facade call. A nil err counts as "ok".
func StoreOp(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpsTotal.WithLabelValues(backend, op, result).Inc()
}

// TrustCache records a cache hit or miss.
func TrustCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	trustCacheTotal.WithLabelValues(outcome).Inc()
}

func Reputation(status string) {
	reputationTotal.WithLabelValues(status).Inc()
}

func TrustEvent(eventType, result string) {
	trustEventsTotal.WithLabelValues(eventType, result).Inc()
}

func TrustEventDropped() {
	trustEventsDropped.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
