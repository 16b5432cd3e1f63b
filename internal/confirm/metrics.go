package confirm

import "github.com/prometheus/client_golang/prometheus"

var (
	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_confirmations_total",
			Help: "Optimistic commands by outcome",
		},
		[]string{"outcome"},
	)
	confirmationAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goodhome_confirmation_attempts",
			Help:    "Polls needed until the backend reported a written value",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)
)

// MetricsCollectors returns the collectors of the confirmation controller.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{confirmationsTotal, confirmationAttempts}
}

type metricsObserver struct{}

func (metricsObserver) CommandTransition(e Event) {
	if !e.Terminal() {
		return
	}
	confirmationsTotal.WithLabelValues(string(e.Outcome)).Inc()
	if e.Outcome == OutcomeConfirmed {
		confirmationAttempts.Observe(float64(e.Attempts))
	}
}
