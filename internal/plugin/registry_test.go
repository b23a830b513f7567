package plugin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
)

// fake is a test plugin with every optional capability.
type fake struct {
	id           string
	modes        []string
	result       Result
	displayErr   error
	live         bool
	liveContent  bool
	liveModes    []string
	cycleDone    bool
	cycleResets  atomic.Int32
	hint         time.Duration
	updateCalls  atomic.Int32
	enableCalls  atomic.Int32
	disableCalls atomic.Int32
	enableErr    error
	settings     map[string]any
}

func (f *fake) ID() string { return f.id }

func (f *fake) Display(ctx context.Context, mode string, forceClear bool) (Result, error) {
	if f.displayErr != nil {
		return Result{}, f.displayErr
	}
	return f.result, nil
}

func (f *fake) Modes() []string                         { return f.modes }
func (f *fake) Update(ctx context.Context) error        { f.updateCalls.Add(1); return nil }
func (f *fake) SliceDuration(mode string) time.Duration { return f.hint }

func (f *fake) DynamicCap() time.Duration                 { return 2 * time.Minute }
func (f *fake) CycleDuration(mode string) time.Duration   { return 0 }
func (f *fake) ResetCycle()                               { f.cycleResets.Add(1) }
func (f *fake) CycleComplete() bool                       { return f.cycleDone }

func (f *fake) LivePriority() bool    { return f.live }
func (f *fake) HasLiveContent() bool  { return f.liveContent }
func (f *fake) LiveModes() []string   { return f.liveModes }
func (f *fake) ScrollingEnabled() bool { return false }

func (f *fake) TickerFrames(ctx context.Context) ([]*panel.Frame, error) {
	return []*panel.Frame{panel.NewFrame(8, 16)}, nil
}

func (f *fake) OnEnable(ctx context.Context) error {
	f.enableCalls.Add(1)
	return f.enableErr
}

func (f *fake) OnDisable(ctx context.Context) error {
	f.disableCalls.Add(1)
	return nil
}

func (f *fake) ApplySettings(settings map[string]any) error {
	f.settings = settings
	return nil
}

// bare is a plugin with no optional capabilities at all.
type bare struct{ id string }

func (b bare) ID() string { return b.id }
func (b bare) Display(ctx context.Context, mode string, forceClear bool) (Result, error) {
	return Rendered(""), nil
}

func TestDescribeProbesCapabilities(t *testing.T) {
	d := Describe(&fake{id: "sports", modes: []string{"nhl", "nfl"}, hint: 25 * time.Second})
	assert.Equal(t, "sports", d.ID)
	assert.Equal(t, []string{"nhl", "nfl"}, d.Modes)
	assert.True(t, d.CanUpdate)
	assert.True(t, d.CanCycle)
	assert.True(t, d.CanLive)
	assert.True(t, d.CanScroll)
	assert.Equal(t, 25*time.Second, d.SliceDuration("nhl", 30*time.Second))

	b := Describe(bare{id: "plain"})
	assert.Empty(t, b.Modes)
	assert.False(t, b.CanUpdate)
	assert.False(t, b.CanCycle)
	assert.False(t, b.CanLive)
	assert.False(t, b.CanScroll)
	assert.True(t, b.CycleComplete(), "plugins without the capability never block dynamic extension")
	assert.False(t, b.LivePriority())
	assert.NoError(t, b.Update(context.Background()))
	assert.Equal(t, 30*time.Second, b.SliceDuration("", 30*time.Second))
}

func TestDescriptorDurationPrecedence(t *testing.T) {
	d := Describe(&fake{id: "x", hint: 25 * time.Second})
	d.ManifestDuration = 10 * time.Second
	assert.Equal(t, 10*time.Second, d.SliceDuration("", 30*time.Second), "manifest beats hint")

	d.ManifestDuration = 0
	assert.Equal(t, 25*time.Second, d.SliceDuration("", 30*time.Second), "hint beats fallback")

	b := Describe(bare{id: "y"})
	assert.Equal(t, 30*time.Second, b.SliceDuration("", 30*time.Second))
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(bare{id: "clock"})
	require.NoError(t, err)

	_, err = r.Register(&fake{id: "clock"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRotationOrderAndEnabledFilter(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(bare{id: "a"})
	require.NoError(t, err)
	_, err = r.RegisterDisabled(bare{id: "b"})
	require.NoError(t, err)
	_, err = r.Register(bare{id: "c"})
	require.NoError(t, err)

	ids := func(ds []*Descriptor) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.ID
		}
		return out
	}

	assert.Equal(t, []string{"a", "c"}, ids(r.Rotation()))
	assert.Equal(t, []string{"a", "b", "c"}, ids(r.All()))
	assert.False(t, r.Enabled("b"))

	require.NoError(t, r.SetEnabled(context.Background(), "b", true))
	assert.Equal(t, []string{"a", "b", "c"}, ids(r.Rotation()), "re-enabled plugin keeps its registration slot")
}

func TestSetEnabledFiresHooksOnceOnTransition(t *testing.T) {
	r := NewRegistry()
	f := &fake{id: "scores"}
	_, err := r.RegisterDisabled(f)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.SetEnabled(ctx, "scores", true))
	require.NoError(t, r.SetEnabled(ctx, "scores", true))
	require.NoError(t, r.SetEnabled(ctx, "scores", true))
	assert.Equal(t, int32(1), f.enableCalls.Load(), "repeated enables must not re-fire the hook")

	require.NoError(t, r.SetEnabled(ctx, "scores", false))
	assert.Equal(t, int32(1), f.disableCalls.Load())

	err = r.SetEnabled(ctx, "ghost", true)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestSetEnabledSurfacesHookErrorButKeepsState(t *testing.T) {
	r := NewRegistry()
	f := &fake{id: "scores", enableErr: errors.New("boom")}
	_, err := r.RegisterDisabled(f)
	require.NoError(t, err)

	err = r.SetEnabled(context.Background(), "scores", true)
	require.Error(t, err)
	assert.True(t, r.Enabled("scores"), "state change stands even when the hook fails")
}

func TestValidateMode(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(&fake{id: "sports", modes: []string{"nhl", "nfl"}})
	require.NoError(t, err)
	_, err = r.Register(bare{id: "plain"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		mode    string
		wantErr error
	}{
		{"valid mode", "sports", "nhl", nil},
		{"unknown plugin", "ghost", "nhl", ErrUnknownPlugin},
		{"invalid mode", "sports", "curling", ErrInvalidMode},
		{"missing mode", "sports", "", ErrMissingMode},
		{"modeless ok", "plain", "", nil},
		{"mode on modeless", "plain", "nhl", ErrInvalidMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateMode(tt.id, tt.mode)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
