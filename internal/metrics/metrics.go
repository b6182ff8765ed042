package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	holdsPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "holds_placed_total",
			Help:      "Holds successfully placed.",
		},
	)

	holdsDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "holds_denied_total",
			Help:      "Hold attempts denied because another holder owns the resource.",
		},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "booking_conflicts_total",
			Help:      "Conflict-check rejections by kind.",
		},
		[]string{"kind"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "booking_transitions_total",
			Help:      "Terminal booking-attempt outcomes.",
		},
		[]string{"outcome"},
	)

	sweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "reconciler_sweeps_total",
			Help:      "Completed reconciliation sweeps.",
		},
	)

	sweepRowFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pavilion",
			Name:      "reconciler_row_failures_total",
			Help:      "Per-row failures inside a sweep; the sweep itself continues.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			holdsPlaced,
			holdsDenied,
			conflicts,
			bookings,
			sweepRuns,
			sweepRowFailures,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncHoldPlaced() { holdsPlaced.Inc() }
func IncHoldDenied() { holdsDenied.Inc() }

// IncConflict records a conflict-check rejection.
func IncConflict(kind string) {
	conflicts.WithLabelValues(kind).Inc()
}

// IncBooking records a terminal outcome: confirmed, expired, failed, cancelled.
func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

func IncSweep()           { sweepRuns.Inc() }
func IncSweepRowFailure() { sweepRowFailures.Inc() }
