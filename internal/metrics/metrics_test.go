package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.IncIteration()
	metrics.RecordSlice("clock", "rendered", 30)
	metrics.RecordSlice("", "failed", 0.1)
	metrics.SetDisplayActive(true)
	metrics.SetBrightness(90)
	metrics.SetDisplaySource("rotation")
	metrics.RecordOnDemandEvent("weather", "started")
	metrics.RecordPluginCall("clock", "display", "success", 0.02)
	metrics.SetCircuitState("clock", "open")
	metrics.RecordCircuitTrip("clock")
	metrics.RecordChannelOp("memory", "get", "miss")
	metrics.RecordRequestProcessed("start", "accepted")
	metrics.IncBannerDisplay()
	metrics.AddScrollFrames(120)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"ledmatrix_engine_iterations_total",
		"ledmatrix_display_slices_total",
		"ledmatrix_display_source",
		"ledmatrix_plugin_calls_total",
		"ledmatrix_circuit_state",
		"ledmatrix_channel_ops_total",
		"ledmatrix_requests_processed_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics exposition missing %s", want)
		}
	}

	// Empty plugin labels are normalized, not dropped.
	if !strings.Contains(string(body), `plugin="unknown"`) {
		t.Error("expected empty plugin label to be recorded as unknown")
	}
}
