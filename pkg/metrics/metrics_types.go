package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec
	SubscribeSessions     prometheus.Gauge

	// Replay Metrics
	RecordsAppliedTotal prometheus.Counter
	ReplayPosition      prometheus.Gauge
	ReplayDuration      prometheus.Histogram
	ReplayErrorsTotal   *prometheus.CounterVec

	// Ingest Metrics
	IngestState            *prometheus.GaugeVec
	IngestReconnectsTotal  prometheus.Counter
	IngestRecordsReceived  prometheus.Counter
	IngestBytesReceived    prometheus.Counter
	IngestHeartbeatsTotal  prometheus.Counter
	StreamErrorsTotal      *prometheus.CounterVec
	FeedHeadPosition       prometheus.Gauge
	FeedConnectionsCurrent prometheus.Gauge

	// Query Metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	SlowQueries   prometheus.Counter

	// Notification Metrics
	BusPublishesTotal      prometheus.Counter
	BusDeliveriesTotal     prometheus.Counter
	BusListeners           prometheus.Gauge
	BusListenerPanicsTotal prometheus.Counter
	ReactiveRecomputes     *prometheus.CounterVec
	ReactiveBindings       prometheus.Gauge

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

// IngestStates lists the label values of the ingest state gauge
var IngestStates = []string{"connecting", "streaming", "applying", "reconnecting", "failed", "shutdown"}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initServerMetrics()
	r.initReplayMetrics()
	r.initIngestMetrics()
	r.initQueryMetrics()
	r.initNotificationMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
