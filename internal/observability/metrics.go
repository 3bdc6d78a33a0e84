package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts API requests by method and classified outcome.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailtrail_api_requests_total",
		Help: "Total number of API requests by method and outcome code",
	}, []string{"method", "outcome"})

	// APIRequestLatency records request latency by method.
	APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tailtrail_api_request_latency_seconds",
		Help:    "API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// ChannelFramesTotal counts websocket frames by direction and type.
	ChannelFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailtrail_channel_frames_total",
		Help: "Total websocket frames by direction and frame type",
	}, []string{"direction", "type"})

	// ChannelsActive is the gauge of currently connected chat channels.
	ChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tailtrail_channels_active",
		Help: "Number of currently connected chat channels",
	})

	// LikeRollbacksTotal counts optimistic like toggles reverted on failure.
	LikeRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailtrail_like_rollbacks_total",
		Help: "Total optimistic like toggles reverted after a failed acknowledgement",
	})
)

// RecordRequest increments the request counter for the method and outcome.
// Outcome is "ok" for success or the taxonomy code for failures.
func RecordRequest(method, outcome string) {
	APIRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordFrame increments the frame counter. Direction is "in" or "out".
func RecordFrame(direction, frameType string) {
	ChannelFramesTotal.WithLabelValues(direction, frameType).Inc()
}
