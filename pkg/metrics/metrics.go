package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SlowQueryThreshold marks queries counted by SlowQueries
const SlowQueryThreshold = 100 * time.Millisecond

// The Record* helpers are no-ops on a nil registry so components can run without metrics.

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// AddSubscribeSessions adjusts the number of open query subscriptions
func (r *Registry) AddSubscribeSessions(delta int) {
	if r == nil {
		return
	}
	r.SubscribeSessions.Add(float64(delta))
}

// RecordApply records a successfully applied transition record
func (r *Registry) RecordApply(position uint64, duration time.Duration) {
	if r == nil {
		return
	}
	r.RecordsAppliedTotal.Inc()
	r.ReplayPosition.Set(float64(position))
	r.ReplayDuration.Observe(duration.Seconds())
}

// RecordReplayError records a fatal replay failure
func (r *Registry) RecordReplayError(reason string) {
	if r == nil {
		return
	}
	r.ReplayErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordReceived records a record frame received from the stream
func (r *Registry) RecordReceived(payloadBytes int) {
	if r == nil {
		return
	}
	r.IngestRecordsReceived.Inc()
	r.IngestBytesReceived.Add(float64(payloadBytes))
}

// RecordHeartbeat records a stream heartbeat
func (r *Registry) RecordHeartbeat() {
	if r == nil {
		return
	}
	r.IngestHeartbeatsTotal.Inc()
}

// RecordReconnect records one reconnect attempt
func (r *Registry) RecordReconnect() {
	if r == nil {
		return
	}
	r.IngestReconnectsTotal.Inc()
}

// RecordStreamError records a stream error by class
func (r *Registry) RecordStreamError(permanent bool) {
	if r == nil {
		return
	}
	class := "transient"
	if permanent {
		class = "permanent"
	}
	r.StreamErrorsTotal.WithLabelValues(class).Inc()
}

// SetIngestState sets the current ingest state
func (r *Registry) SetIngestState(state string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all states
	for _, s := range IngestStates {
		r.IngestState.WithLabelValues(s).Set(0)
	}

	// Set current state
	r.IngestState.WithLabelValues(state).Set(1)
}

// SetFeedHead records the newest position a feed server holds
func (r *Registry) SetFeedHead(position uint64) {
	if r == nil {
		return
	}
	r.FeedHeadPosition.Set(float64(position))
}

// FeedConnectionOpened and FeedConnectionClosed track streaming replicas
func (r *Registry) FeedConnectionOpened() {
	if r == nil {
		return
	}
	r.FeedConnectionsCurrent.Inc()
}

func (r *Registry) FeedConnectionClosed() {
	if r == nil {
		return
	}
	r.FeedConnectionsCurrent.Dec()
}

// RecordQuery records a query execution
func (r *Registry) RecordQuery(status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.QueriesTotal.WithLabelValues(status).Inc()
	r.QueryDuration.Observe(duration.Seconds())

	if duration > SlowQueryThreshold {
		r.SlowQueries.Inc()
	}
}

// RecordPublish records one bus publish and the number of listeners it reached
func (r *Registry) RecordPublish(deliveries int) {
	if r == nil {
		return
	}
	r.BusPublishesTotal.Inc()
	r.BusDeliveriesTotal.Add(float64(deliveries))
}

// RecordListenerPanic records a recovered listener panic
func (r *Registry) RecordListenerPanic() {
	if r == nil {
		return
	}
	r.BusListenerPanicsTotal.Inc()
}

// SetListeners sets the number of registered listeners
func (r *Registry) SetListeners(n int) {
	if r == nil {
		return
	}
	r.BusListeners.Set(float64(n))
}

// RecordRecompute records a reactive query recomputation
func (r *Registry) RecordRecompute(trigger string) {
	if r == nil {
		return
	}
	r.ReactiveRecomputes.WithLabelValues(trigger).Inc()
}

// AddBindings adjusts the number of live consumer bindings
func (r *Registry) AddBindings(delta int) {
	if r == nil {
		return
	}
	r.ReactiveBindings.Add(float64(delta))
}

// UpdateSystemMetrics refreshes uptime and Go runtime gauges
func (r *Registry) UpdateSystemMetrics(startTime time.Time) {
	if r == nil {
		return
	}
	r.UptimeSeconds.Set(time.Since(startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
