package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplayMetrics() {
	r.RecordsAppliedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_records_applied_total",
			Help: "Total number of transition records applied to the replica",
		},
	)

	r.ReplayPosition = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "subchain_replay_position",
			Help: "Position of the last applied transition record",
		},
	)

	r.ReplayDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subchain_replay_duration_seconds",
			Help:    "Time spent applying one transition record",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	r.ReplayErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subchain_replay_errors_total",
			Help: "Total number of fatal replay errors",
		},
		[]string{"reason"}, // out_of_order, rejected
	)
}
