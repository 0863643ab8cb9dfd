package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_ratelimit_rejections_total",
			Help: "Consumptions rejected by the rate limiter, by class.",
		},
		[]string{"class"},
	)
	storeFallback = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gossip_ratelimit_store_fallback",
			Help: "1 while the rate limiter runs on its in-memory fallback store.",
		},
	)
)

func init() {
	prometheus.MustRegister(rejections, storeFallback)
}
