package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "subchain"

// initServerMetrics covers the query server surface and the process it runs in.
func (r *Registry) initServerMetrics() {
	factory := promauto.With(r.registry)
	httpLabels := []string{"method", "path", "status"}

	r.HTTPRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Requests served, by route and status",
	}, httpLabels)
	r.HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, httpLabels)
	r.HTTPRequestsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Requests currently being handled",
	})
	r.HTTPResponseSizeBytes = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "Response body size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})
	r.SubscribeSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribe_sessions",
		Help:      "Open websocket query subscriptions",
	})

	r.UptimeSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started serving",
	})
	r.GoRoutines = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Live goroutines",
	})
	r.MemoryAllocBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "memory",
		Name:      "alloc_bytes",
		Help:      "Bytes of allocated heap objects",
	})
	r.MemorySysBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "memory",
		Name:      "sys_bytes",
		Help:      "Bytes of memory obtained from the OS",
	})
}
