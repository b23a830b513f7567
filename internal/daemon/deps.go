package daemon

import (
	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/channel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/engine"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/executor"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/health"
)

// Deps contains the dependencies the daemon Manager runs with. They are
// injected so tests can assemble a daemon around fakes.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// Config is the effective configuration at startup.
	Config config.AppConfig

	// Engine is the display run loop the manager owns for its lifetime.
	Engine *engine.Engine

	// Channel is the request channel, exposed through the debug endpoint.
	Channel channel.Channel

	// Executor supplies per-plugin circuit summaries for the debug
	// endpoint. Optional; the route is omitted when nil.
	Executor *executor.Executor

	// Health backs the /healthz and /readyz probes. Required only when
	// the debug endpoint is enabled.
	Health *health.Manager
}

// Validate checks that the dependencies are complete.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Engine == nil {
		return ErrMissingEngine
	}
	if d.Channel == nil {
		return ErrMissingChannel
	}
	if d.Config.Debug.Enabled && d.Health == nil {
		return ErrMissingHealth
	}
	return nil
}
