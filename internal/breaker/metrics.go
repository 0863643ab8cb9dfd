package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gossip_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"name", "from", "to"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_breaker_requests_total",
			Help: "Calls through circuit breakers by result (success, failure, rejected).",
		},
		[]string{"name", "result"},
	)
)

func init() {
	prometheus.MustRegister(stateGauge, transitions, requests)
}
