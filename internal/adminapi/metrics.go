package adminapi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the process-wide Prometheus collectors the monitoring API
// exposes on /metrics. Namespacing follows "llp_<subsystem>_<name>" the way
// the pack's other instrumented services scope their own counters.
type metrics struct {
	sessionsEstablished prometheus.Counter
	sessionsClosed      *prometheus.CounterVec
	sessionsActive      prometheus.Gauge
	handshakes          *prometheus.CounterVec
	recordsSent         prometheus.Counter
	recordsDropped      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsSet  *metrics
)

// newMetrics returns the process-wide metrics singleton, registering it
// with the default registry on first call. A daemon process only ever runs
// one Hub, but tests construct several Servers against the same registry,
// so registration must happen at most once.
func newMetrics() *metrics {
	metricsOnce.Do(func() { metricsSet = buildMetrics() })
	return metricsSet
}

func buildMetrics() *metrics {
	return &metrics{
		sessionsEstablished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "daemon",
			Name:      "sessions_established_total",
			Help:      "Total number of LLP sessions successfully established.",
		}),
		sessionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "daemon",
			Name:      "sessions_closed_total",
			Help:      "Total number of LLP sessions closed, labeled by reason.",
		}, []string{"reason"}),
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "llp",
			Subsystem: "daemon",
			Name:      "sessions_active",
			Help:      "Number of LLP sessions currently established.",
		}),
		handshakes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "daemon",
			Name:      "handshakes_total",
			Help:      "Total number of handshake attempts, labeled by outcome.",
		}, []string{"outcome"}),
		recordsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "daemon",
			Name:      "records_sent_total",
			Help:      "Total number of records sent by sessions that have since closed, counted from each session's last rekey.",
		}),
		recordsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "llp",
			Subsystem: "daemon",
			Name:      "records_dropped_total",
			Help:      "Total number of inbound records dropped by sessions that have since closed.",
		}),
	}
}
