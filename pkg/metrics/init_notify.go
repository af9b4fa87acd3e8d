package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNotificationMetrics() {
	r.BusPublishesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_bus_publishes_total",
			Help: "Total number of change notifications published",
		},
	)

	r.BusDeliveriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_bus_deliveries_total",
			Help: "Total number of listener invocations",
		},
	)

	r.BusListeners = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "subchain_bus_listeners",
			Help: "Number of registered change listeners",
		},
	)

	r.BusListenerPanicsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subchain_bus_listener_panics_total",
			Help: "Total number of listener panics recovered during publish",
		},
	)

	r.ReactiveRecomputes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subchain_reactive_recomputes_total",
			Help: "Total number of reactive query recomputations",
		},
		[]string{"trigger"}, // bind, text, notify
	)

	r.ReactiveBindings = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "subchain_reactive_bindings",
			Help: "Number of live reactive query bindings",
		},
	)
}
