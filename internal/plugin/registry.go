package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
)

// Registry holds all registered plugins in rotation order and tracks which
// are enabled. Enable state is in-memory only; restarts return to the
// manifest defaults.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
	logger  zerolog.Logger
}

type entry struct {
	desc    *Descriptor
	enabled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  log.WithComponent("registry"),
	}
}

// Register adds a plugin at the end of the rotation order. Registering a
// duplicate ID is an error.
func (r *Registry) Register(p Plugin) (*Descriptor, error) {
	return r.register(p, true)
}

// RegisterDisabled adds a plugin that starts outside the rotation.
func (r *Registry) RegisterDisabled(p Plugin) (*Descriptor, error) {
	return r.register(p, false)
}

func (r *Registry) register(p Plugin, enabled bool) (*Descriptor, error) {
	d := Describe(p)
	if d.ID == "" {
		return nil, fmt.Errorf("plugin with empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
	}
	r.entries[d.ID] = &entry{desc: d, enabled: enabled}
	r.order = append(r.order, d.ID)

	r.logger.Info().
		Str("event", "plugin.registered").
		Str(log.FieldPlugin, d.ID).
		Strs("modes", d.Modes).
		Bool("enabled", enabled).
		Bool("updates", d.CanUpdate).
		Bool("dynamic", d.CanCycle).
		Bool("live", d.CanLive).
		Bool("ticker", d.CanTicker).
		Msg("plugin registered")
	return d, nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// Enabled reports whether id is registered and enabled.
func (r *Registry) Enabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.enabled
}

// Rotation returns the enabled descriptors in registration order. The
// slice is a copy; callers may hold it across an iteration.
func (r *Registry) Rotation() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e.enabled {
			out = append(out, e.desc)
		}
	}
	return out
}

// All returns every descriptor in registration order, enabled or not.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// IDs returns the registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetEnabled flips a plugin's enable state and fires its lifecycle hook on
// an actual transition. Setting the current state again is a no-op, so
// repeated on-demand activations never re-fire OnEnable.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	if e.enabled == enabled {
		r.mu.Unlock()
		return nil
	}
	e.enabled = enabled
	desc := e.desc
	r.mu.Unlock()

	var err error
	if enabled {
		err = desc.onEnable(ctx)
	} else {
		err = desc.onDisable(ctx)
	}
	if err != nil {
		// The state change stands; the hook failure is the plugin's
		// problem and is surfaced to the caller for logging.
		r.logger.Warn().
			Err(err).
			Str("event", "plugin.lifecycle_hook_failed").
			Str(log.FieldPlugin, id).
			Bool("enabled", enabled).
			Msg("lifecycle hook returned error")
		return err
	}

	r.logger.Info().
		Str("event", "plugin.enabled_changed").
		Str(log.FieldPlugin, id).
		Bool("enabled", enabled).
		Msg("plugin enable state changed")
	return nil
}

// ValidateMode checks an on-demand request target against the registry.
// The returned error is one of the wire-contract sentinels.
func (r *Registry) ValidateMode(id, mode string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrUnknownPlugin
	}
	d := e.desc

	if len(d.Modes) == 0 {
		if mode != "" {
			return ErrInvalidMode
		}
		return nil
	}
	if mode == "" {
		return ErrMissingMode
	}
	if !d.HasMode(mode) {
		return ErrInvalidMode
	}
	return nil
}
