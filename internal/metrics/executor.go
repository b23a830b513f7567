package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pluginCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledmatrix_plugin_calls_total",
		Help: "Plugin invocations by operation and outcome",
	}, []string{"plugin", "op", "outcome"}) // outcome=success|no_content|error|timeout|panic|skipped

	pluginCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledmatrix_plugin_call_duration_seconds",
		Help:    "Plugin invocation latency by operation",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"plugin", "op"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledmatrix_circuit_state",
		Help: "Failure circuit state by plugin (closed/open; active state is 1)",
	}, []string{"plugin", "state"})

	circuitTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledmatrix_circuit_trips_total",
		Help: "Total circuit openings (plugin excluded from rotation)",
	}, []string{"plugin"})
)

var circuitStates = []string{"closed", "open"}

// RecordPluginCall records one plugin invocation.
func RecordPluginCall(plugin, op, outcome string, seconds float64) {
	if plugin == "" {
		plugin = "unknown"
	}
	pluginCalls.WithLabelValues(plugin, op, outcome).Inc()
	pluginCallDuration.WithLabelValues(plugin, op).Observe(seconds)
}

// SetCircuitState records the active circuit state for a plugin.
func SetCircuitState(plugin, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitState.WithLabelValues(plugin, s).Set(value)
	}
}

// RecordCircuitTrip counts a circuit opening.
func RecordCircuitTrip(plugin string) {
	circuitTrips.WithLabelValues(plugin).Inc()
}
