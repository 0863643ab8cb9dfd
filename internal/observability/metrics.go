package observability

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gossip_build_info",
			Help: "Constant 1 labelled with the running build.",
		},
		[]string{"version", "go_version"},
	)
	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gossip_start_time_seconds",
		Help: "Unix time the server process started serving.",
	})
)

func init() {
	prometheus.MustRegister(buildInfo, startTime)
}

// RecordStart publishes the build labels and the start timestamp.
func RecordStart(version string, now time.Time) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
	startTime.Set(float64(now.Unix()))
}
