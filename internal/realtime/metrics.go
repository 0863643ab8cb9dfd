package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	liveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gossip_ws_connections",
		Help: "Live realtime connections.",
	})
	presenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_presence_transitions_total",
			Help: "Presence status transitions by target status.",
		},
		[]string{"to"},
	)
	presenceSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gossip_presence_sweeps_total",
		Help: "Idle sweeps run over the presence table.",
	})
	typingExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gossip_typing_expired_total",
		Help: "Typing sets changed by TTL expiry.",
	})
	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gossip_ws_dropped_events_total",
		Help: "Events dropped because a connection's send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(liveConnections, presenceTransitions, presenceSweeps, typingExpired, droppedEvents)
}
