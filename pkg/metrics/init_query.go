package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subchain_queries_total",
			Help: "Total number of queries executed",
		},
		[]string{"status"},
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subchain_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	r.SlowQueries = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_slow_queries_total",
			Help: "Total number of slow queries (>100ms)",
		},
	)
}
