package goodhome

import "github.com/prometheus/client_golang/prometheus"

var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_login_total",
			Help: "Login exchanges by result",
		},
		[]string{"result"},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_token_refresh_total",
			Help: "Refresh-token exchanges by result (fallback = refresh failed and login was attempted)",
		},
		[]string{"result"},
	)
	handshakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_handshake_total",
			Help: "Real-time polling handshakes by result",
		},
		[]string{"result"},
	)
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_requests_total",
			Help: "Vendor REST requests by operation and HTTP status",
		},
		[]string{"op", "status"},
	)
	cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_cache_total",
			Help: "Conditional cache outcomes (hit = 304 served from cache, miss = fresh body, stale = 304 without entry)",
		},
		[]string{"result"},
	)
	commandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goodhome_command_total",
			Help: "Device state writes by command and result",
		},
		[]string{"command", "result"},
	)
	tokenExpiry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goodhome_token_expiry_timestamp_seconds",
			Help: "Estimated access token expiry (epoch seconds)",
		},
	)
)

// MetricsCollectors returns the collectors of the vendor client.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginTotal,
		refreshTotal,
		handshakeTotal,
		requestTotal,
		cacheTotal,
		commandTotal,
		tokenExpiry,
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
