package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
)

// fakeClock advances instantly on Sleep so tests drive whole slices
// without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return true
}

// SleepWake drains a pending wake signal but still advances the full
// tick, keeping fake-clock timelines deterministic.
func (c *fakeClock) SleepWake(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	select {
	case <-wake:
	default:
	}
	return c.Sleep(ctx, d)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type displayCall struct {
	mode       string
	forceClear bool
	at         time.Time
}

// fakePlugin is the baseline content plugin: modes, a fixed slice hint
// and a scripted display result.
type fakePlugin struct {
	id    string
	modes []string
	dur   time.Duration

	mu      sync.Mutex
	calls   []displayCall
	display func(mode string) (plugin.Result, error)
	clock   *fakeClock
}

func newFakePlugin(clk *fakeClock, id string, dur time.Duration, modes ...string) *fakePlugin {
	return &fakePlugin{id: id, modes: modes, dur: dur, clock: clk}
}

func (p *fakePlugin) ID() string      { return p.id }
func (p *fakePlugin) Modes() []string { return p.modes }

func (p *fakePlugin) SliceDuration(string) time.Duration { return p.dur }

func (p *fakePlugin) Display(_ context.Context, mode string, forceClear bool) (plugin.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, displayCall{mode: mode, forceClear: forceClear, at: p.clock.Now()})
	fn := p.display
	p.mu.Unlock()
	if fn != nil {
		return fn(mode)
	}
	return plugin.Rendered(""), nil
}

func (p *fakePlugin) callLog() []displayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]displayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// modesSeen lists the distinct modes in call order, collapsing repeats.
func (p *fakePlugin) modesSeen() []string {
	var out []string
	for _, c := range p.callLog() {
		if len(out) == 0 || out[len(out)-1] != c.mode {
			out = append(out, c.mode)
		}
	}
	return out
}

func (p *fakePlugin) forceClearCount() int {
	n := 0
	for _, c := range p.callLog() {
		if c.forceClear {
			n++
		}
	}
	return n
}

func (p *fakePlugin) setDisplay(fn func(mode string) (plugin.Result, error)) {
	p.mu.Lock()
	p.display = fn
	p.mu.Unlock()
}

// failingPlugin always errors from Display.
func failAlways(string) (plugin.Result, error) {
	return plugin.Result{}, errors.New("boom")
}

// livePlugin adds the live-priority capability on top of fakePlugin.
type livePlugin struct {
	*fakePlugin

	liveMu      sync.Mutex
	priority    bool
	liveContent bool
	liveModes   []string
}

func (p *livePlugin) LivePriority() bool {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return p.priority
}

func (p *livePlugin) HasLiveContent() bool {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return p.liveContent
}

func (p *livePlugin) LiveModes() []string {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return p.liveModes
}

func (p *livePlugin) setLive(content bool) {
	p.liveMu.Lock()
	p.liveContent = content
	p.liveMu.Unlock()
}

// cyclePlugin adds the dynamic-duration capability.
type cyclePlugin struct {
	*fakePlugin

	cycMu    sync.Mutex
	cap      time.Duration
	cycleDur time.Duration
	complete bool
	resets   int
}

func (p *cyclePlugin) DynamicCap() time.Duration          { return p.cap }
func (p *cyclePlugin) CycleDuration(string) time.Duration { return p.cycleDur }

func (p *cyclePlugin) ResetCycle() {
	p.cycMu.Lock()
	p.resets++
	p.cycMu.Unlock()
}

func (p *cyclePlugin) CycleComplete() bool {
	p.cycMu.Lock()
	defer p.cycMu.Unlock()
	return p.complete
}

func (p *cyclePlugin) setComplete(v bool) {
	p.cycMu.Lock()
	p.complete = v
	p.cycMu.Unlock()
}

// tickerPlugin adds compositor frames.
type tickerPlugin struct {
	*fakePlugin
	frames []*panel.Frame
}

func (p *tickerPlugin) TickerFrames(context.Context) ([]*panel.Frame, error) {
	return p.frames, nil
}

// updatePlugin counts background refreshes.
type updatePlugin struct {
	*fakePlugin
	count int
	updMu sync.Mutex
}

func (p *updatePlugin) Update(context.Context) error {
	p.updMu.Lock()
	p.count++
	p.updMu.Unlock()
	return nil
}

func (p *updatePlugin) updateCount() int {
	p.updMu.Lock()
	defer p.updMu.Unlock()
	return p.count
}
