package engine

import (
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
)

// modeRef pairs one rotation entry with its owning plugin. A modeless
// plugin contributes a single entry whose mode is empty; its display name
// is then the plugin ID.
type modeRef struct {
	desc *plugin.Descriptor
	mode string
}

// valid reports whether the ref points at a plugin.
func (m modeRef) valid() bool { return m.desc != nil }

// name is the rotation-facing identity of the entry.
func (m modeRef) name() string {
	if m.mode != "" {
		return m.mode
	}
	if m.desc != nil {
		return m.desc.ID
	}
	return ""
}

func (m modeRef) pluginID() string {
	if m.desc == nil {
		return ""
	}
	return m.desc.ID
}

// rotation is the cursor over the flattened list of available modes. The
// run loop owns it exclusively.
type rotation struct {
	refs  []modeRef
	index int
}

// rebuild flattens the enabled plugins into the mode list, preserving
// registration order, and keeps the cursor on the entry it pointed at
// before the rebuild when that entry still exists.
func (r *rotation) rebuild(descs []*plugin.Descriptor) {
	var current string
	if len(r.refs) > 0 && r.index < len(r.refs) {
		current = r.refs[r.index].name()
	}

	r.refs = r.refs[:0]
	for _, d := range descs {
		if len(d.Modes) == 0 {
			r.refs = append(r.refs, modeRef{desc: d})
			continue
		}
		for _, m := range d.Modes {
			r.refs = append(r.refs, modeRef{desc: d, mode: m})
		}
	}

	r.index = 0
	for i, ref := range r.refs {
		if ref.name() == current {
			r.index = i
			break
		}
	}
}

// empty reports whether there is nothing to rotate over.
func (r *rotation) empty() bool { return len(r.refs) == 0 }

// current returns the entry under the cursor.
func (r *rotation) current() modeRef {
	if r.empty() {
		return modeRef{}
	}
	if r.index >= len(r.refs) {
		r.index = 0
	}
	return r.refs[r.index]
}

// advance moves the cursor one entry forward.
func (r *rotation) advance() {
	if r.empty() {
		return
	}
	r.index = (r.index + 1) % len(r.refs)
}

// advancePast moves the cursor past every remaining entry owned by
// pluginID, used when a plugin's display call fails hard.
func (r *rotation) advancePast(pluginID string) {
	if r.empty() {
		return
	}
	for range r.refs {
		r.index = (r.index + 1) % len(r.refs)
		if r.refs[r.index].pluginID() != pluginID {
			return
		}
	}
}

// seek positions the cursor on the entry named mode; it reports whether
// the entry exists.
func (r *rotation) seek(mode string) bool {
	for i, ref := range r.refs {
		if ref.name() == mode {
			r.index = i
			return true
		}
	}
	return false
}

// setIndex clamps and applies a restored cursor position.
func (r *rotation) setIndex(i int) {
	if r.empty() || i < 0 || i >= len(r.refs) {
		r.index = 0
		return
	}
	r.index = i
}

// names lists the rotation entries for state publication.
func (r *rotation) names() []string {
	out := make([]string, len(r.refs))
	for i, ref := range r.refs {
		out[i] = ref.name()
	}
	return out
}
