// Package metrics provides Prometheus collectors for input collection and
// message dispatch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// InputsActive tracks inputs between setup and unsetup.
	InputsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gather_inputs_active",
			Help: "Active inputs",
		},
	)

	// InputsFinished counts inputs by the reason collection stopped.
	InputsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_inputs_finished_total",
			Help: "Finished inputs",
		},
		[]string{"reason"},
	)

	// Interactions counts pushed interactions by result: routed, unrouted or malformed.
	Interactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_interactions_total",
			Help: "Interactions",
		},
		[]string{"result"},
	)

	// Warnings counts timeout warnings sent to pending participants.
	Warnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gather_timeout_warnings_total",
			Help: "Timeout warnings",
		},
	)

	// Sends counts slot renders by backend and status.
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_sends_total",
			Help: "Slot renders",
		},
		[]string{"backend", "status"},
	)

	// DegradedSends counts sendables decomposed because the backend could not
	// render the fragment combination natively.
	DegradedSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_degraded_sends_total",
			Help: "Decomposed sendables",
		},
		[]string{"backend", "capabilities"},
	)

	// RunDuration records orchestrated run durations in seconds.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gather_run_duration_seconds",
			Help:    "Orchestrated run duration",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 21600, 86400},
		},
	)
)

func init() {
	prometheus.MustRegister(
		InputsActive,
		InputsFinished,
		Interactions,
		Warnings,
		Sends,
		DegradedSends,
		RunDuration,
	)
}
