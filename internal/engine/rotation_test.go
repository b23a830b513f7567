package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
)

func buildRotation(t *testing.T, plugins ...plugin.Plugin) (*rotation, *plugin.Registry) {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, p := range plugins {
		_, err := reg.Register(p)
		require.NoError(t, err)
	}
	r := &rotation{}
	r.rebuild(reg.Rotation())
	return r, reg
}

func TestRotation_FlattensModes(t *testing.T) {
	clk := newFakeClock()
	r, _ := buildRotation(t,
		newFakePlugin(clk, "clock", time.Second, "clock"),
		newFakePlugin(clk, "scoreboard", time.Second, "recent", "standings"),
	)

	assert.Equal(t, []string{"clock", "recent", "standings"}, r.names())
	assert.Equal(t, "clock", r.current().name())
}

func TestRotation_ModelessPluginUsesID(t *testing.T) {
	clk := newFakeClock()
	r, _ := buildRotation(t, newFakePlugin(clk, "splash", time.Second))

	require.False(t, r.empty())
	assert.Equal(t, []string{"splash"}, r.names())
	assert.Equal(t, "splash", r.current().pluginID())
	assert.Equal(t, "", r.current().mode)
}

func TestRotation_AdvanceWraps(t *testing.T) {
	clk := newFakeClock()
	r, _ := buildRotation(t,
		newFakePlugin(clk, "a", time.Second, "a1"),
		newFakePlugin(clk, "b", time.Second, "b1"),
	)

	r.advance()
	assert.Equal(t, "b1", r.current().name())
	r.advance()
	assert.Equal(t, "a1", r.current().name())
}

func TestRotation_AdvancePastSkipsPluginModes(t *testing.T) {
	clk := newFakeClock()
	r, _ := buildRotation(t,
		newFakePlugin(clk, "buggy", time.Second, "buggy_a", "buggy_b"),
		newFakePlugin(clk, "clock", time.Second, "clock"),
	)

	require.Equal(t, "buggy_a", r.current().name())
	r.advancePast("buggy")
	assert.Equal(t, "clock", r.current().name())
}

func TestRotation_AdvancePastSolePlugin(t *testing.T) {
	clk := newFakeClock()
	r, _ := buildRotation(t, newFakePlugin(clk, "only", time.Second, "x", "y"))

	r.advancePast("only")
	// Nowhere else to go; the cursor stays inside bounds.
	assert.Less(t, r.index, len(r.refs))
}

func TestRotation_RebuildPreservesCursor(t *testing.T) {
	clk := newFakeClock()
	r, reg := buildRotation(t,
		newFakePlugin(clk, "a", time.Second, "a1"),
		newFakePlugin(clk, "b", time.Second, "b1"),
		newFakePlugin(clk, "c", time.Second, "c1"),
	)

	r.advance()
	require.Equal(t, "b1", r.current().name())

	// Disabling an unrelated plugin keeps the cursor on its entry.
	require.NoError(t, reg.SetEnabled(t.Context(), "c", false))
	r.rebuild(reg.Rotation())
	assert.Equal(t, "b1", r.current().name())

	// Disabling the pointed-at plugin falls back to the start.
	require.NoError(t, reg.SetEnabled(t.Context(), "b", false))
	r.rebuild(reg.Rotation())
	assert.Equal(t, "a1", r.current().name())
}

func TestRotation_SeekAndSetIndex(t *testing.T) {
	clk := newFakeClock()
	r, _ := buildRotation(t,
		newFakePlugin(clk, "a", time.Second, "a1"),
		newFakePlugin(clk, "b", time.Second, "b1"),
	)

	assert.True(t, r.seek("b1"))
	assert.Equal(t, 1, r.index)
	assert.False(t, r.seek("missing"))
	assert.Equal(t, 1, r.index, "failed seek must not move the cursor")

	r.setIndex(99)
	assert.Equal(t, 0, r.index, "out-of-range restore clamps to zero")
	r.setIndex(-1)
	assert.Equal(t, 0, r.index)
	r.setIndex(1)
	assert.Equal(t, 1, r.index)
}

func TestRotation_EmptySafe(t *testing.T) {
	r := &rotation{}
	assert.True(t, r.empty())
	assert.False(t, r.current().valid())
	r.advance()
	r.advancePast("anything")
	r.setIndex(3)
	assert.Equal(t, 0, r.index)
	assert.Empty(t, r.names())
}
