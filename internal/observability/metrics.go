// README: Prometheus collectors for the trip coordination engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "diomy", Name: "trips_created_total", Help: "Trips created, by service type"},
		[]string{"service_type"},
	)
	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "diomy", Name: "trip_transitions_total", Help: "Trip status transitions, by target status"},
		[]string{"to"},
	)
	TripRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "diomy", Name: "trip_rejections_total", Help: "Rejected trip operations, by reason"},
		[]string{"reason"},
	)
	NoCandidate = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "diomy", Name: "matching_no_candidate_total", Help: "Requests with no eligible provider"},
	)
	DispatchReoffers = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "diomy", Name: "dispatch_policy_actions_total", Help: "Dispatch policy actions applied to stale offers"},
		[]string{"action"},
	)
	GeofenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "diomy", Name: "geofence_events_total", Help: "One-shot geofence events fired, by kind"},
		[]string{"kind"},
	)
	PositionsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "diomy", Name: "positions_consumed_total", Help: "Provider position samples consumed"},
	)
	RealtimeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "diomy", Name: "realtime_sessions", Help: "Connected realtime sessions"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "diomy", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diomy",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
