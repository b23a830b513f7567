package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/channel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/engine"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/executor"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
)

// maxRequestBody bounds POST /request payloads; directives are tiny.
const maxRequestBody = 4 << 10

// newDebugHandler builds the local observability router: health probes,
// Prometheus metrics, the engine snapshot, and on-demand request
// submission for operators without direct channel access.
func newDebugHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if rps := deps.Config.Debug.RateLimitRPS; rps > 0 {
		r.Use(httprate.Limit(rps, time.Second,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Get("/healthz", deps.Health.ServeHealth)
	r.Get("/readyz", deps.Health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/state", serveSnapshot(deps.Engine))
	r.Get("/ondemand", serveOnDemandState(deps.Channel))
	if deps.Executor != nil {
		r.Get("/circuits", serveCircuits(deps.Executor))
	}
	r.Post("/request", serveSubmitRequest(deps.Channel, deps.Config.OnDemand.RequestTTL.D()))

	return otelhttp.NewHandler(r, "debug")
}

// serveSnapshot serves the engine's last iteration snapshot.
func serveSnapshot(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := eng.Snapshot()
		if snap == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "engine has not completed an iteration yet")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			l := log.WithComponentFromContext(r.Context(), "debug")
			l.Error().Err(err).Str("event", "debug.encode_error").Msg("failed to encode snapshot")
		}
	}
}

// serveCircuits serves the per-plugin failure circuit summaries.
func serveCircuits(exec *executor.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(exec.Summaries()); err != nil {
			l := log.WithComponentFromContext(r.Context(), "debug")
			l.Error().Err(err).Str("event", "debug.encode_error").Msg("failed to encode circuit summaries")
		}
	}
}

// serveOnDemandState proxies the published on-demand state verbatim.
func serveOnDemandState(ch channel.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok, err := ch.Get(r.Context(), channel.KeyState)
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "request channel unavailable")
			return
		}
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no state published yet")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

// serveSubmitRequest accepts an on-demand directive and writes it to the
// request channel, where the next engine iteration picks it up. A missing
// request_id is filled in so curl one-liners work.
func serveSubmitRequest(ch channel.Channel, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "debug")

		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()

		var req channel.Request
		if err := dec.Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request: "+err.Error())
			return
		}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		if req.Timestamp == 0 {
			req.Timestamp = float64(time.Now().UnixMilli()) / 1000
		}
		if err := req.Validate(); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := json.Marshal(&req)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "encode request")
			return
		}
		if err := ch.SetTTL(r.Context(), channel.KeyRequest, data, ttl); err != nil {
			logger.Error().Err(err).Str("event", "debug.request_write_failed").Msg("request write failed")
			writeJSONError(w, http.StatusServiceUnavailable, "request channel unavailable")
			return
		}

		logger.Info().
			Str("event", "debug.request_accepted").
			Str(log.FieldRequestID, req.RequestID).
			Str("action", req.Action).
			Msg("on-demand request submitted")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": req.RequestID})
	}
}

func writeJSONError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": detail})
}
