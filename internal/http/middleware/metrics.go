// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus collectors for HTTP traffic. Labels are the
// method, the registered Gin route and the status code, so series stay
// bounded no matter what URLs clients send. WebSocket handshakes are counted
// on their own: an upgraded handler lives as long as the socket and would
// distort the latency histogram and the in-flight gauge.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// no status label on latency
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gossip_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gossip_http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// JSON envelopes are small; history pages top out around a few hundred KiB.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gossip_http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"method", "path"},
	)

	wsUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_http_ws_upgrades_total",
			Help: "WebSocket handshake attempts by response status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, wsUpgrades)
}

// Metrics records gossip_http_requests_total, the duration and response-size
// histograms and the in-flight gauge for every plain request. Upgrade
// requests only bump gossip_http_ws_upgrades_total{status}.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			wsUpgrades.WithLabelValues(wsOutcome(c)).Inc()
			return
		}

		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route, method := routeLabel(c), c.Request.Method
		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(n))
		}
	}
}

// routeLabel is the registered route pattern. Unmatched requests share one
// label so scanners probing random paths cannot grow the series count.
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

// wsOutcome labels a finished handshake. A hijacked connection keeps gin's
// default 200, so a successful upgrade is recorded as 101.
func wsOutcome(c *gin.Context) string {
	status := c.Writer.Status()
	if status == http.StatusOK {
		status = http.StatusSwitchingProtocols
	}
	return strconv.Itoa(status)
}
