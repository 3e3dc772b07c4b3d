// Package metrics collects Prometheus instruments for the order subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated     prometheus.Counter
	OrdersExecuted    prometheus.Counter
	OrdersCancelled   prometheus.Counter
	OrdersExpired     prometheus.Counter
	ExecutionFailures prometheus.Counter
	TriggerConflicts  prometheus.Counter

	TickDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders accepted and persisted",
		}),
		OrdersExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_executed_total",
			Help: "Orders filled by the ledger",
		}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_cancelled_total",
			Help: "Orders moved to the cancelled state",
		}),
		OrdersExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_expired_total",
			Help: "Orders expired by the time-in-force sweep",
		}),
		ExecutionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_execution_failures_total",
			Help: "Triggered orders the ledger rejected",
		}),
		TriggerConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_trigger_conflicts_total",
			Help: "Pending-to-triggered transitions lost to another actor",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_tick_duration_seconds",
			Help:    "Wall time of one trigger monitor tick",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler exposes the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
