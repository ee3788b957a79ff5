// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_posted_total",
			Help: "Total messages posted",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Total messages deleted by their authors",
		},
	)

	FilesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_files_stored_total",
			Help: "Total uploaded files stored",
		},
	)
)
