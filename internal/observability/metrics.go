package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsLive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "connections_live", Help: "Live real-time connections"})
	RidersOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "riders_online", Help: "Riders currently online"})

	FramesTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "dispatch", Name: "frames_total", Help: "Inbound frames handled"}, []string{"type"})
	FramesInvalid = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "frames_invalid_total", Help: "Inbound frames dropped as malformed or unknown"})

	DeliveriesOffered   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "deliveries_offered_total", Help: "new_delivery offers pushed to riders"})
	DeliveriesAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "deliveries_accepted_total", Help: "Deliveries accepted"})
	DeliveriesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "deliveries_completed_total", Help: "Deliveries completed"})
	AcceptRejections    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "accept_rejections_total", Help: "accept_delivery attempts rejected"})

	BroadcastErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "broadcast_errors_total", Help: "Per-recipient write failures during fan-out"})
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "sessions_evicted_total", Help: "Rider sessions evicted by the staleness sweep"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
