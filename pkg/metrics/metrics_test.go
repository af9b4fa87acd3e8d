package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	// Verify metrics are initialized
	if r.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal not initialized")
	}
	if r.RecordsAppliedTotal == nil {
		t.Error("RecordsAppliedTotal not initialized")
	}
	if r.IngestState == nil {
		t.Error("IngestState not initialized")
	}
	if r.BusPublishesTotal == nil {
		t.Error("BusPublishesTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	// Should return the same instance
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.RecordApply(1, time.Millisecond)
	r.RecordQuery("success", time.Millisecond)
	r.SetIngestState("streaming")
	r.RecordPublish(3)
	r.RecordRecompute("notify")
	r.AddSubscribeSessions(1)
	r.UpdateSystemMetrics(time.Now())
}

func TestAddSubscribeSessions(t *testing.T) {
	r := NewRegistry()

	r.AddSubscribeSessions(1)
	r.AddSubscribeSessions(1)
	r.AddSubscribeSessions(-1)

	if got := gaugeValue(t, r.SubscribeSessions); got != 1 {
		t.Errorf("SubscribeSessions = %v, want 1", got)
	}
}

func TestRecordApply(t *testing.T) {
	r := NewRegistry()

	r.RecordApply(1, time.Millisecond)
	r.RecordApply(2, 2*time.Millisecond)

	if got := counterValue(t, r.RecordsAppliedTotal); got != 2 {
		t.Errorf("RecordsAppliedTotal = %v, want 2", got)
	}
	if got := gaugeValue(t, r.ReplayPosition); got != 2 {
		t.Errorf("ReplayPosition = %v, want 2", got)
	}
}

func TestRecordStreamError(t *testing.T) {
	r := NewRegistry()

	r.RecordStreamError(false)
	r.RecordStreamError(false)
	r.RecordStreamError(true)

	transient, err := r.StreamErrorsTotal.GetMetricWithLabelValues("transient")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, transient); got != 2 {
		t.Errorf("transient = %v, want 2", got)
	}

	permanent, err := r.StreamErrorsTotal.GetMetricWithLabelValues("permanent")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if got := counterValue(t, permanent); got != 1 {
		t.Errorf("permanent = %v, want 1", got)
	}
}

func TestSetIngestState(t *testing.T) {
	r := NewRegistry()

	r.SetIngestState("connecting")
	r.SetIngestState("streaming")

	streaming, _ := r.IngestState.GetMetricWithLabelValues("streaming")
	if got := gaugeValue(t, streaming); got != 1 {
		t.Errorf("streaming gauge = %v, want 1", got)
	}

	connecting, _ := r.IngestState.GetMetricWithLabelValues("connecting")
	if got := gaugeValue(t, connecting); got != 0 {
		t.Errorf("connecting gauge = %v, want 0", got)
	}
}

func TestRecordQuery(t *testing.T) {
	r := NewRegistry()

	r.RecordQuery("success", 5*time.Millisecond)
	r.RecordQuery("error", 200*time.Millisecond)

	success, _ := r.QueriesTotal.GetMetricWithLabelValues("success")
	if got := counterValue(t, success); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := counterValue(t, r.SlowQueries); got != 1 {
		t.Errorf("SlowQueries = %v, want 1", got)
	}
}

func TestRecordPublish(t *testing.T) {
	r := NewRegistry()

	r.RecordPublish(3)
	r.RecordPublish(0)

	if got := counterValue(t, r.BusPublishesTotal); got != 2 {
		t.Errorf("BusPublishesTotal = %v, want 2", got)
	}
	if got := counterValue(t, r.BusDeliveriesTotal); got != 3 {
		t.Errorf("BusDeliveriesTotal = %v, want 3", got)
	}
}

func TestHistogramMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordHTTPRequest("GET", "/graphql", "200", 100*time.Millisecond)
	r.RecordHTTPRequest("GET", "/graphql", "200", 200*time.Millisecond)
	r.RecordHTTPRequest("GET", "/graphql", "200", 150*time.Millisecond)

	histogram, err := r.HTTPRequestDuration.GetMetricWithLabelValues("GET", "/graphql", "200")
	if err != nil {
		t.Fatalf("Failed to get histogram: %v", err)
	}

	var metric dto.Metric
	if err := histogram.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("Sample count = %v, want 3", metric.Histogram.GetSampleCount())
	}

	sum := metric.Histogram.GetSampleSum()
	if sum < 0.44 || sum > 0.46 {
		t.Errorf("Sample sum = %v, want ~0.45", sum)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordPublish(1)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if got := counterValue(t, r.BusPublishesTotal); got != 1000 {
		t.Errorf("Counter = %v, want 1000", got)
	}
}

func TestGetPrometheusRegistry(t *testing.T) {
	r := NewRegistry()
	promRegistry := r.GetPrometheusRegistry()

	if promRegistry == nil {
		t.Fatal("GetPrometheusRegistry() returned nil")
	}

	metrics, err := promRegistry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	expectedMetrics := []string{
		"subchain_replay_position",
		"subchain_bus_listeners",
		"subchain_uptime_seconds",
	}

	metricNames := make(map[string]bool)
	for _, m := range metrics {
		metricNames[m.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		if !metricNames[expected] {
			t.Errorf("Expected metric %s not found", expected)
		}
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, m := range metrics {
		name := m.GetName()
		if !strings.HasPrefix(name, "subchain_") {
			t.Errorf("Metric %s does not have subchain_ prefix", name)
		}
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RecordApply(7, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "subchain_replay_position 7") {
		t.Errorf("exposition missing replay position:\n%s", body)
	}
}

func BenchmarkRecordApply(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordApply(uint64(i), time.Microsecond)
	}
}

func BenchmarkSetIngestState(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.SetIngestState("streaming")
	}
}
