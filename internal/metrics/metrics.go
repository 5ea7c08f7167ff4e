// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mototaxi"

var (
	RidesRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_requested_total", Help: "Rides created, by vehicle class"},
		[]string{"vehicle_class"},
	)
	RideOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_outcomes_total", Help: "Rides reaching a terminal status"},
		[]string{"status", "reason"},
	)
	OffersSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Offers written to a candidate driver"})
	OfferResults = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offer_results_total", Help: "How each offer ended"},
		[]string{"result"},
	)
	DispatchErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_store_errors_total", Help: "Store failures seen by the dispatcher"})
	ActiveDispatches = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_dispatches", Help: "Dispatch loops currently running"})
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from dispatch start to outcome",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers currently online"})
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Ride change events, by type"},
		[]string{"type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
