package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maskedit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maskedit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	editRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maskedit_edit_requests_total",
			Help: "Total number of edit requests",
		},
		[]string{"status"}, // status: success, validation_error, model_error, internal_error
	)

	editStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maskedit_edit_stage_duration_seconds",
			Help:    "Per-stage duration of the edit pipeline",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	editBBoxAreaPixels = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maskedit_edit_bbox_area_pixels",
			Help:    "Area in pixels of the extracted edit region",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maskedit_rate_limit_hits_total",
			Help: "Total number of requests rejected by the per-client rate limiter",
		},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maskedit_upload_size_bytes",
			Help:    "Size of base image payloads uploaded to /upload in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 25 * 1024 * 1024},
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maskedit_websocket_active_connections",
			Help: "Number of active WebSocket progress connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maskedit_websocket_messages_total",
			Help: "Total number of WebSocket progress messages",
		},
		[]string{"direction"},
	)
)
