// Package metrics holds the prometheus collectors for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "community_talk"

type Metrics struct {
	Connections      prometheus.Gauge
	OnlineUsers      prometheus.Gauge
	EventsDelivered  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	HandshakeRejects *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open authenticated websocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Users with at least one open connection.",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_delivered_total",
			Help:      "Events queued to a connection, by event type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_dropped_total",
			Help:      "Events not queued to a connection, by reason.",
		}, []string{"reason"}),
		HandshakeRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "handshake_rejections_total",
			Help:      "Handshakes refused, by auth error code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.OnlineUsers, m.EventsDelivered, m.EventsDropped, m.HandshakeRejects)
	}
	return m
}
