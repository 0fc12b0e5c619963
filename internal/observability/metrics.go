package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status API requests.",
		},
		[]string{"client", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boardlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client", "method", "route", "status"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "boardlink",
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the state the client session is currently in, 0 otherwise.",
		},
		[]string{"client", "state"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardlink",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		},
		[]string{"client", "state"},
	)
	sessionSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardlink",
			Subsystem: "session",
			Name:      "sends_total",
			Help:      "Outbound commands handed to the transport.",
		},
		[]string{"client", "success"},
	)
	echoAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardlink",
			Subsystem: "echo",
			Name:      "anomalies_total",
			Help:      "Missing or unexpected echo entries reported.",
		},
		[]string{"client", "kind"},
	)
	queueDeficits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boardlink",
			Subsystem: "transport",
			Name:      "queue_deficits_total",
			Help:      "Outbound lines lost to a full transport queue.",
		},
		[]string{"client"},
	)
	pingRoundTrip = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boardlink",
			Subsystem: "ping",
			Name:      "round_trip_seconds",
			Help:      "Ping round-trip time in seconds.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"client"},
	)
)

// SessionStates lists the label values used by the state gauge.
var SessionStates = []string{"unconnected", "requesting", "awaiting_handshake", "connected", "disconnected"}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessionState, sessionTransitions,
			sessionSends, echoAnomalies, queueDeficits, pingRoundTrip)
	})
}

func RecordHTTPRequest(client, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(client, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(client, method, route, statusLabel).Observe(duration.Seconds())
}

// RecordSessionState marks state as current for client and counts the
// transition.
func RecordSessionState(client, state string) {
	RegisterMetrics()
	for _, s := range SessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(client, s).Set(v)
	}
	sessionTransitions.WithLabelValues(client, state).Inc()
}

func RecordSend(client string, success bool) {
	RegisterMetrics()
	sessionSends.WithLabelValues(client, strconv.FormatBool(success)).Inc()
}

func RecordEchoAnomalies(client, kind string, n int) {
	RegisterMetrics()
	echoAnomalies.WithLabelValues(client, kind).Add(float64(n))
}

func ObservePing(client string, rtt time.Duration) {
	RegisterMetrics()
	pingRoundTrip.WithLabelValues(client).Observe(rtt.Seconds())
}

func RecordQueueDeficit(client string) {
	RegisterMetrics()
	queueDeficits.WithLabelValues(client).Inc()
}
