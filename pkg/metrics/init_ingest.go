package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initIngestMetrics() {
	r.IngestState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subchain_ingest_state",
			Help: "Current block stream ingest state (1 for the active state)",
		},
		[]string{"state"},
	)

	r.IngestReconnectsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_ingest_reconnects_total",
			Help: "Total number of reconnect attempts",
		},
	)

	r.IngestRecordsReceived = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_ingest_records_received_total",
			Help: "Total number of transition records received from the stream",
		},
	)

	r.IngestBytesReceived = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_ingest_bytes_received_total",
			Help: "Total record payload bytes received from the stream",
		},
	)

	r.IngestHeartbeatsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_ingest_heartbeats_total",
			Help: "Total number of stream heartbeats received",
		},
	)

	r.StreamErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subchain_stream_errors_total",
			Help: "Total number of stream errors",
		},
		[]string{"class"}, // transient, permanent
	)

	r.FeedHeadPosition = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "subchain_feed_head_position",
			Help: "Position of the newest record held by the feed server",
		},
	)

	r.FeedConnectionsCurrent = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "subchain_feed_connections",
			Help: "Number of replicas currently streaming from the feed server",
		},
	)
}
