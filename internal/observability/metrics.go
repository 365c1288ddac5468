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
			Namespace: "buslink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the dev relay.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buslink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Dev relay HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buslink",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay client requests.",
		},
		[]string{"op", "status", "success"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buslink",
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Relay client request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "status", "success"},
	)
	polledEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buslink",
			Subsystem: "poll",
			Name:      "envelopes_total",
			Help:      "Inbound envelopes delivered by the poll loop.",
		},
		[]string{"origin"},
	)
	undecodableEnvelopes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buslink",
			Subsystem: "poll",
			Name:      "undecodable_total",
			Help:      "Inbound envelopes whose ciphertext could not be decoded.",
		},
	)
	sentEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buslink",
			Subsystem: "send",
			Name:      "envelopes_total",
			Help:      "Outbound envelope send attempts.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			relayRequests,
			relayDuration,
			polledEnvelopes,
			undecodableEnvelopes,
			sentEnvelopes,
		)
	})
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRelayRequest counts one relay client call. status is 0 when the
// request never produced a response.
func RecordRelayRequest(op string, status int, duration time.Duration, success bool) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	successLabel := strconv.FormatBool(success)
	relayRequests.WithLabelValues(op, statusLabel, successLabel).Inc()
	relayDuration.WithLabelValues(op, statusLabel, successLabel).Observe(duration.Seconds())
}

func RecordPolledEnvelope(origin string) {
	RegisterMetrics()
	polledEnvelopes.WithLabelValues(origin).Inc()
}

func RecordUndecodableEnvelope() {
	RegisterMetrics()
	undecodableEnvelopes.Inc()
}

func RecordSend(success bool) {
	RegisterMetrics()
	sentEnvelopes.WithLabelValues(strconv.FormatBool(success)).Inc()
}
