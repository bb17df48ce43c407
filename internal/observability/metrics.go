package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "requests_created_total", Help: "Service requests created"})
	RequestsAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "requests_accepted_total", Help: "Accept transitions that won"})
	AcceptConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	RequestsClosed   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "requests_finished_total", Help: "Completed and closed transitions"},
		[]string{"status"},
	)
	LocationReports = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "location_reports_total", Help: "Provider location reports applied"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadside_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
