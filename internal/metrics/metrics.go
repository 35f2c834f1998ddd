// Package metrics provides Prometheus instrumentation for the chat routing
// process: gauges for connection and session counts, counters for envelope
// throughput, and a histogram for dispatch fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// SessionsActive tracks the number of chat session memberships the hub
	// has seen. Memberships are retained once created, so this only grows
	// within a process lifetime.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_sessions_active",
		Help: "Number of chat session memberships in the hub",
	})

	// MessagesTotal counts envelope outcomes, labeled by type:
	// "delivered", "dropped", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_messages_total",
		Help: "Total number of envelopes processed",
	}, []string{"type"}) // type = "delivered", "dropped", "rejected"

	// DispatchFanout records how many connections each session dispatch
	// reached.
	DispatchFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "livechat_dispatch_fanout",
		Help:    "Connections reached per session dispatch",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// PresenceTransitions counts user online/offline flips, labeled by the
	// resulting status.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_presence_transitions_total",
		Help: "User online/offline transitions",
	}, []string{"status"}) // status = "online", "offline"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsActive,
		MessagesTotal,
		DispatchFanout,
		PresenceTransitions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
