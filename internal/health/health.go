// Package health provides the liveness and readiness checks served by the
// debug endpoint. Checks cover the pieces that can fail independently of
// the process: the request channel, the plugin registry, the run loop and
// the banner file location.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/channel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates registered checkers into probe responses.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a health check manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a checker.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health is the liveness verdict: the process is alive, component detail
// is included only when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Ready is the readiness verdict; any unhealthy component makes the
// daemon not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// runChecks runs all checkers concurrently; a slow probe must not
// serialize the rest.
func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	results := make([]CheckResult, len(m.checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range m.checkers {
		g.Go(func() error {
			results[i] = c.Check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	for i, c := range m.checkers {
		result := results[i]
		checks[c.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return checks, status
}

// ServeHealth handles liveness requests. Always 200: a responding process
// is alive.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles readiness requests, 503 while not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}
}

// ChannelChecker verifies the request channel answers reads.
type ChannelChecker struct {
	ch channel.Channel
}

// NewChannelChecker creates a checker against the live channel.
func NewChannelChecker(ch channel.Channel) *ChannelChecker {
	return &ChannelChecker{ch: ch}
}

func (c *ChannelChecker) Name() string { return "request_channel" }

func (c *ChannelChecker) Check(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, _, err := c.ch.Get(checkCtx, channel.KeyState); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "channel reachable"}
}

// RegistryChecker verifies at least one plugin is registered.
type RegistryChecker struct {
	count func() int
}

// NewRegistryChecker takes the registry's Len func.
func NewRegistryChecker(count func() int) *RegistryChecker {
	return &RegistryChecker{count: count}
}

func (c *RegistryChecker) Name() string { return "plugin_registry" }

func (c *RegistryChecker) Check(context.Context) CheckResult {
	n := c.count()
	if n == 0 {
		return CheckResult{Status: StatusUnhealthy, Error: "no plugins registered"}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d plugins", n)}
}

// LoopChecker verifies the run loop completed an iteration recently. The
// loop sleeps up to a minute while the schedule keeps the panel off, so
// the stall threshold sits well above that.
type LoopChecker struct {
	lastIteration func() time.Time
	stallAfter    time.Duration
}

// NewLoopChecker takes the engine's LastIteration func.
func NewLoopChecker(lastIteration func() time.Time) *LoopChecker {
	return &LoopChecker{
		lastIteration: lastIteration,
		stallAfter:    5 * time.Minute,
	}
}

func (c *LoopChecker) Name() string { return "run_loop" }

func (c *LoopChecker) Check(context.Context) CheckResult {
	last := c.lastIteration()
	if last.IsZero() || last.Unix() == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no iteration completed yet"}
	}
	if age := time.Since(last); age > c.stallAfter {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("last iteration %s ago", age.Round(time.Second)),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "loop iterating"}
}

// BannerPathChecker verifies the banner file's directory is usable. The
// file itself is transient; only a broken location is worth reporting.
type BannerPathChecker struct {
	path string
}

// NewBannerPathChecker creates a checker for the configured banner path.
func NewBannerPathChecker(path string) *BannerPathChecker {
	return &BannerPathChecker{path: path}
}

func (c *BannerPathChecker) Name() string { return "banner_path" }

func (c *BannerPathChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	dir := filepath.Dir(c.path)
	info, err := os.Stat(dir)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: dir}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusDegraded, Error: "banner location is not a directory", Message: dir}
	}
	return CheckResult{Status: StatusHealthy, Message: "banner path usable"}
}
