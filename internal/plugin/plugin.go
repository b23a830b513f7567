// Package plugin defines the content plugin contract and the registry the
// engine rotates over. A plugin implements the small Plugin interface;
// optional capabilities (modes, background updates, dynamic slices, live
// priority, ticker segments, lifecycle hooks) are separate interfaces
// probed once at registration.
package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
)

// Request validation errors. The error text doubles as the last_error value
// published on the request channel, so the strings are part of the wire
// contract.
var (
	ErrUnknownPlugin = errors.New("unknown-plugin")
	ErrInvalidMode   = errors.New("invalid-mode")
	ErrMissingMode   = errors.New("missing-mode")
)

// ErrDuplicateID is returned when two plugins register under the same ID.
var ErrDuplicateID = errors.New("duplicate plugin id")

// Status classifies the outcome of a display call that returned nil error.
type Status int

const (
	// StatusRendered means content is on the panel.
	StatusRendered Status = iota
	// StatusNoContent means the plugin had nothing to show; the panel was
	// left untouched and the rotation moves on without counting a failure.
	StatusNoContent
)

func (s Status) String() string {
	switch s {
	case StatusRendered:
		return "rendered"
	case StatusNoContent:
		return "no_content"
	default:
		return "unknown"
	}
}

// Result is what a display call reports back to the engine.
type Result struct {
	Status Status

	// Summary is a short note for logs, e.g. "3 games" or "clear 12C".
	Summary string
}

// Rendered is a convenience Result for the common case.
func Rendered(summary string) Result {
	return Result{Status: StatusRendered, Summary: summary}
}

// NoContent is a convenience Result for "nothing to show".
func NoContent(reason string) Result {
	return Result{Status: StatusNoContent, Summary: reason}
}

// Plugin is the minimal contract every content plugin implements.
//
// Display renders one frame of content for the given mode. An empty mode
// means the plugin's default view. forceClear is set when the previous
// slice belonged to a different plugin and the panel must not show stale
// pixels. Display must respect ctx; the engine enforces a deadline.
type Plugin interface {
	ID() string
	Display(ctx context.Context, mode string, forceClear bool) (Result, error)
}

// ModeLister exposes the named modes a plugin can display. Plugins without
// this capability are modeless and reject explicit mode requests.
type ModeLister interface {
	Modes() []string
}

// Updater refreshes plugin data in the background, outside display slices.
// The engine bounds each update with its own deadline.
type Updater interface {
	Update(ctx context.Context) error
}

// DurationHinter overrides the configured default slice length.
type DurationHinter interface {
	SliceDuration(mode string) time.Duration
}

// CycleAware marks plugins whose content forms a cycle (pages, game
// lists). The engine extends their slice past the base duration until the
// cycle completes or a cap is reached.
type CycleAware interface {
	// DynamicCap is the plugin's own extension ceiling. Zero means the
	// global cap applies alone.
	DynamicCap() time.Duration

	// CycleDuration is the expected length of one content cycle for the
	// mode, or zero when unknown.
	CycleDuration(mode string) time.Duration

	// ResetCycle is called when a new slice enters this plugin's dynamic
	// mode.
	ResetCycle()

	// CycleComplete reports whether the current cycle has finished.
	CycleComplete() bool
}

// LivePrioritizer lets a plugin preempt normal rotation during live
// events. Preemption requires both the standing claim and live content
// right now.
type LivePrioritizer interface {
	LivePriority() bool
	HasLiveContent() bool

	// LiveModes lists the modes to show during the event, most preferred
	// first.
	LiveModes() []string
}

// SmoothScroller marks plugins that repaint continuously within their own
// slice (scrolling text); the engine tightens the inner render tick for
// them.
type SmoothScroller interface {
	ScrollingEnabled() bool
}

// TickerSource provides frames for the scrolling compositor ribbon. Each
// frame must have the panel's row count; widths are up to the plugin.
type TickerSource interface {
	TickerFrames(ctx context.Context) ([]*panel.Frame, error)
}

// Lifecycle receives enable/disable transitions. Hooks run only on actual
// state changes, never on repeated enables.
type Lifecycle interface {
	OnEnable(ctx context.Context) error
	OnDisable(ctx context.Context) error
}

// Configurable receives manifest settings at load time and again when the
// manifest changes on a config reload.
type Configurable interface {
	ApplySettings(settings map[string]any) error
}
