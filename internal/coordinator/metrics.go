package coordinator

import "github.com/prometheus/client_golang/prometheus"

var lastSuccess = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "goodhome_coordinator_last_success_timestamp_seconds",
		Help: "Time of the last successful device refresh (epoch seconds)",
	},
)

// MetricsCollectors returns the collectors of the coordinator.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{lastSuccess}
}
