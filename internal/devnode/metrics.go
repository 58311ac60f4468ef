package devnode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kolibri_devnode_http_requests_total",
		Help: "Total HTTP requests processed by the dev node",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kolibri_devnode_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	streamFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kolibri_devnode_stream_frames_total",
		Help: "Trace frames written to stream clients",
	}, []string{"transport"})

	activeStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kolibri_devnode_active_streams",
		Help: "Stream clients currently attached",
	}, []string{"transport"})
)
