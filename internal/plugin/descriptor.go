package plugin

import (
	"context"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
)

// Descriptor is the registry's view of one plugin: the plugin itself plus
// its capabilities, probed exactly once at registration so the hot loop
// never type-asserts.
type Descriptor struct {
	ID     string
	Plugin Plugin

	// Modes is the plugin's mode list, possibly narrowed by its manifest.
	// Empty means modeless.
	Modes []string

	// ManifestDuration overrides DurationHinter and the configured default
	// when positive.
	ManifestDuration time.Duration

	CanUpdate bool
	CanCycle  bool
	CanLive   bool
	CanTicker bool

	updater Updater
	hinter  DurationHinter
	cycler  CycleAware
	live    LivePrioritizer
	smooth  SmoothScroller
	ticker  TickerSource
	life    Lifecycle
	config  Configurable
}

// Describe probes p's capabilities into a Descriptor.
func Describe(p Plugin) *Descriptor {
	d := &Descriptor{ID: p.ID(), Plugin: p}

	if m, ok := p.(ModeLister); ok {
		d.Modes = append(d.Modes, m.Modes()...)
	}
	if u, ok := p.(Updater); ok {
		d.updater = u
		d.CanUpdate = true
	}
	if h, ok := p.(DurationHinter); ok {
		d.hinter = h
	}
	if c, ok := p.(CycleAware); ok {
		d.cycler = c
		d.CanCycle = true
	}
	if l, ok := p.(LivePrioritizer); ok {
		d.live = l
		d.CanLive = true
	}
	if s, ok := p.(SmoothScroller); ok {
		d.smooth = s
	}
	if t, ok := p.(TickerSource); ok {
		d.ticker = t
		d.CanTicker = true
	}
	if l, ok := p.(Lifecycle); ok {
		d.life = l
	}
	if c, ok := p.(Configurable); ok {
		d.config = c
	}
	return d
}

// HasMode reports whether mode is in the descriptor's mode list.
func (d *Descriptor) HasMode(mode string) bool {
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// SliceDuration resolves the slice length for a mode: manifest override,
// then plugin hint, then fallback. Non-positive results are the caller's
// problem to sanitize; the descriptor reports what was asked for.
func (d *Descriptor) SliceDuration(mode string, fallback time.Duration) time.Duration {
	if d.ManifestDuration > 0 {
		return d.ManifestDuration
	}
	if d.hinter != nil {
		if hint := d.hinter.SliceDuration(mode); hint != 0 {
			return hint
		}
	}
	return fallback
}

// Update runs the plugin's background refresh. No-op without the
// capability.
func (d *Descriptor) Update(ctx context.Context) error {
	if d.updater == nil {
		return nil
	}
	return d.updater.Update(ctx)
}

// CycleComplete reports the plugin's content cycle state. Plugins without
// the capability always report true so dynamic extension never blocks on
// them.
func (d *Descriptor) CycleComplete() bool {
	if d.cycler == nil {
		return true
	}
	return d.cycler.CycleComplete()
}

// DynamicCap returns the plugin's own extension ceiling, zero if none.
func (d *Descriptor) DynamicCap() time.Duration {
	if d.cycler == nil {
		return 0
	}
	return d.cycler.DynamicCap()
}

// CycleDuration returns the expected cycle length for mode, zero if
// unknown.
func (d *Descriptor) CycleDuration(mode string) time.Duration {
	if d.cycler == nil {
		return 0
	}
	return d.cycler.CycleDuration(mode)
}

// ResetCycle resets the plugin's cycle state at the start of a dynamic
// slice.
func (d *Descriptor) ResetCycle() {
	if d.cycler != nil {
		d.cycler.ResetCycle()
	}
}

// WantsLive reports whether the plugin claims the panel right now.
func (d *Descriptor) WantsLive() bool {
	if d.live == nil {
		return false
	}
	return d.live.LivePriority() && d.live.HasLiveContent()
}

// LiveModes lists the plugin's preferred live modes, most preferred first.
func (d *Descriptor) LiveModes() []string {
	if d.live == nil {
		return nil
	}
	return d.live.LiveModes()
}

// ScrollingEnabled reports whether the plugin repaints continuously and
// needs the fine-grained render tick.
func (d *Descriptor) ScrollingEnabled() bool {
	if d.smooth == nil {
		return false
	}
	return d.smooth.ScrollingEnabled()
}

// TickerFrames fetches the plugin's compositor frames.
func (d *Descriptor) TickerFrames(ctx context.Context) ([]*panel.Frame, error) {
	if d.ticker == nil {
		return nil, nil
	}
	return d.ticker.TickerFrames(ctx)
}

func (d *Descriptor) onEnable(ctx context.Context) error {
	if d.life == nil {
		return nil
	}
	return d.life.OnEnable(ctx)
}

func (d *Descriptor) onDisable(ctx context.Context) error {
	if d.life == nil {
		return nil
	}
	return d.life.OnDisable(ctx)
}

// ApplySettings forwards manifest settings to the plugin if it takes them.
func (d *Descriptor) ApplySettings(settings map[string]any) error {
	if d.config == nil {
		return nil
	}
	return d.config.ApplySettings(settings)
}
