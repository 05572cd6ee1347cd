// Package metrics defines the Prometheus collectors exported by the
// controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the controller's collectors. All collectors are registered
// on construction.
type Metrics struct {
	// EventsReceived counts watch events dispatched to handlers, by kind
	// and event type.
	EventsReceived *prometheus.CounterVec
	// SessionsStarted counts watch sessions opened per kind.
	SessionsStarted *prometheus.CounterVec
	// SessionsClosed counts watch sessions ended per kind.
	SessionsClosed *prometheus.CounterVec
	// Syncs counts mirror sync attempts by kind and result.
	Syncs *prometheus.CounterVec
	// AutoCreates counts auto-mirror creation attempts by kind and result.
	AutoCreates *prometheus.CounterVec
	// QueueDepth tracks the number of events waiting in each kind's queue.
	QueueDepth *prometheus.GaugeVec
}

// New builds the collector set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_watch_events_total",
			Help: "Watch events dispatched to handlers.",
		}, []string{"kind", "type"}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_watch_sessions_started_total",
			Help: "Watch sessions opened.",
		}, []string{"kind"}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_watch_sessions_closed_total",
			Help: "Watch sessions ended.",
		}, []string{"kind"}),
		Syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_syncs_total",
			Help: "Mirror sync attempts.",
		}, []string{"kind", "result"}),
		AutoCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_auto_creates_total",
			Help: "Auto-mirror creation attempts.",
		}, []string{"kind", "result"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reflector_queue_depth",
			Help: "Events waiting in the watch queue.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.EventsReceived,
		m.SessionsStarted,
		m.SessionsClosed,
		m.Syncs,
		m.AutoCreates,
		m.QueueDepth,
	)
	return m
}
