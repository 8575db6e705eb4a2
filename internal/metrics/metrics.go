// Package metrics exposes Prometheus instrumentation for the chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Parley.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	OnlineIdentities  prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	RejectionsTotal   *prometheus.CounterVec
	SignalsForwarded  prometheus.Counter
	SignalsDropped    prometheus.Counter
	MessagesPurged    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_connections_total",
			Help: "Total websocket connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_connections",
			Help: "Current open websocket connections",
		}),
		OnlineIdentities: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_online_identities",
			Help: "Distinct identities with at least one open connection",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_total",
			Help: "Chat messages accepted and delivered",
		}, []string{"room_kind"}),
		RejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_rejections_total",
			Help: "Chat messages rejected before delivery",
		}, []string{"reason"}),
		SignalsForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_signals_forwarded_total",
			Help: "Call signaling frames relayed to a peer",
		}),
		SignalsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_signals_dropped_total",
			Help: "Call signaling frames dropped for lack of a target",
		}),
		MessagesPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_purged_total",
			Help: "Messages removed by the retention purger",
		}),
	}
}
