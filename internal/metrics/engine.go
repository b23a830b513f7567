// Package metrics defines the daemon's Prometheus metrics. Everything is
// registered via promauto at package init; the engine and executor call the
// setter functions instead of touching collectors directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	iterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledmatrix_engine_iterations_total",
		Help: "Total number of run loop iterations",
	})

	slicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledmatrix_display_slices_total",
		Help: "Display slices by plugin and outcome",
	}, []string{"plugin", "outcome"}) // outcome=rendered|no_content|failed|skipped

	sliceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledmatrix_slice_duration_seconds",
		Help:    "Observed length of completed display slices",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
	}, []string{"plugin"})

	displayActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledmatrix_display_active",
		Help: "Whether the panel is inside its active schedule window (1) or blanked (0)",
	})

	displayBrightness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledmatrix_display_brightness",
		Help: "Current panel brightness (0-100)",
	})

	displaySource = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledmatrix_display_source",
		Help: "Active content source (exactly one label is 1)",
	}, []string{"source"})

	onDemandEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledmatrix_ondemand_events_total",
		Help: "On-demand session lifecycle events by plugin",
	}, []string{"plugin", "event"}) // event=started|expired|requested-stop|stop-request-ignored

	bannerDisplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledmatrix_banner_displays_total",
		Help: "Total number of banner takeover slices",
	})

	scrollFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledmatrix_scroll_frames_total",
		Help: "Frames emitted by the scrolling compositor",
	})
)

// Content sources reported on the display_source gauge.
var displaySources = []string{"rotation", "on_demand", "banner", "live_priority", "ticker", "none"}

// IncIteration counts one run loop iteration.
func IncIteration() {
	iterationsTotal.Inc()
}

// RecordSlice records a finished display slice.
func RecordSlice(plugin, outcome string, seconds float64) {
	if plugin == "" {
		plugin = "unknown"
	}
	slicesTotal.WithLabelValues(plugin, outcome).Inc()
	sliceDuration.WithLabelValues(plugin).Observe(seconds)
}

// SetDisplayActive records the schedule decision.
func SetDisplayActive(active bool) {
	if active {
		displayActive.Set(1)
	} else {
		displayActive.Set(0)
	}
}

// SetBrightness records the applied panel brightness.
func SetBrightness(v int) {
	displayBrightness.Set(float64(v))
}

// SetDisplaySource records which arbiter source owns the panel.
func SetDisplaySource(source string) {
	for _, s := range displaySources {
		value := 0.0
		if s == source {
			value = 1.0
		}
		displaySource.WithLabelValues(s).Set(value)
	}
}

// RecordOnDemandEvent counts an on-demand lifecycle event.
func RecordOnDemandEvent(plugin, event string) {
	if plugin == "" {
		plugin = "unknown"
	}
	onDemandEvents.WithLabelValues(plugin, event).Inc()
}

// IncBannerDisplay counts one banner takeover.
func IncBannerDisplay() {
	bannerDisplays.Inc()
}

// AddScrollFrames counts compositor frames.
func AddScrollFrames(n int) {
	scrollFrames.Add(float64(n))
}
