// Package metrics holds the Prometheus collectors of the exchange.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradebook"

type Metrics struct {
	registry *prometheus.Registry

	// Commands
	Commands       *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec

	// Orders
	OrdersPlaced    *prometheus.CounterVec
	OrdersExecuted  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	ActiveOrders    prometheus.Gauge
	FeesCollected   prometheus.Counter

	// Staking
	TotalStake prometheus.Gauge

	// Outbox
	EventsPublished *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	JournalSeq      prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "commands_total",
			Help:      "Commands handled by name and result",
		}, []string{"command", "result"}),
		CommandLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "command_duration_seconds",
			Help:      "Command latency including journal and outbox writes",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"command"}),

		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Orders placed by swap type",
		}, []string{"swap_type"}),
		OrdersExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "executed_total",
			Help:      "Orders executed by swap type",
		}, []string{"swap_type"}),
		OrdersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Orders cancelled by swap type",
		}, []string{"swap_type"}),
		ActiveOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "active",
			Help:      "Orders currently active",
		}),
		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "native_fees_total",
			Help:      "Native fee collected from executions, in base units",
		}),

		TotalStake: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "total_stake",
			Help:      "Principal staked in the active reward ledger",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Events published by event name",
		}, []string{"event"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Failed publish attempts by event name",
		}, []string{"event"}),
		JournalSeq: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "last_seq",
			Help:      "Sequence of the last journaled command",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
