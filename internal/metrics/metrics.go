package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kolibri_client_request_duration_seconds",
		Help:    "Duration of node API requests issued by the client",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "outcome"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kolibri_client_requests_total",
		Help: "Node API requests grouped by method and outcome",
	}, []string{"method", "outcome"})

	streamSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kolibri_stream_sessions_total",
		Help: "Streaming sessions grouped by transport and outcome",
	}, []string{"transport", "outcome"})

	streamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kolibri_stream_events_total",
		Help: "Normalized stream events delivered to handlers",
	}, []string{"transport", "kind"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kolibri_livequery_refresh_duration_seconds",
		Help:    "Duration of live query refreshes",
		Buckets: prometheus.DefBuckets,
	})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kolibri_livequery_refresh_total",
		Help: "Live query refreshes grouped by outcome",
	}, []string{"status"})
)

// ObserveRequest records a completed request. Outcome is a status class
// ("2xx", "4xx", ...) or a transport failure kind ("timeout", "aborted", "network").
func ObserveRequest(method, outcome string, duration time.Duration) {
	if method == "" {
		method = "GET"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveStreamSession records how a session ended: opened, failed or rejected.
func ObserveStreamSession(transport, outcome string) {
	if transport == "" {
		transport = "none"
	}
	streamSessions.WithLabelValues(transport, outcome).Inc()
}

// ObserveStreamEvent counts one delivered message. Kind is the trace event type,
// or "raw" for frames that were not JSON objects.
func ObserveStreamEvent(transport, kind string) {
	if kind == "" {
		kind = "raw"
	}
	streamEvents.WithLabelValues(transport, kind).Inc()
}

// ObserveRefresh records metrics for live query refresh cycles.
func ObserveRefresh(duration time.Duration, success bool) {
	refreshDuration.Observe(duration.Seconds())
	if success {
		refreshTotal.WithLabelValues("success").Inc()
	} else {
		refreshTotal.WithLabelValues("failed").Inc()
	}
}
