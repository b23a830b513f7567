// Package engine contains the display rotation and arbitration core: the
// long-running loop that decides which plugin mode owns the panel, gives
// it a bounded time slice, and services preemption (on-demand requests,
// live priority, connectivity banners) and the on/off and dim schedules.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/banner"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/channel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/executor"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/schedule"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/telemetry"
)

const (
	// tickNormal bounds preemption latency during ordinary slices;
	// tickFast serves scrolling plugins that repaint continuously.
	tickNormal = time.Second
	tickFast   = 8 * time.Millisecond

	// idleSleep is the coarse wait while the schedule keeps the panel
	// off; it ticks at idleTick so directives still land promptly.
	idleSleep = 60 * time.Second
	idleTick  = time.Second

	bannerSleep = 500 * time.Millisecond

	// cycleGrace keeps coarse timing from ending a dynamic slice the
	// instant minDur passes.
	cycleGrace = 500 * time.Millisecond

	// Sanitized fallbacks for non-positive slice budgets.
	safeSlice = 15 * time.Second
	safeCap   = 180 * time.Second

	// updateInterval paces background plugin refreshes.
	updateInterval = 60 * time.Second

	// bannerReadInterval throttles banner file reads inside render loops.
	bannerReadInterval = 500 * time.Millisecond
)

// Engine is the single-threaded run loop plus everything it owns. All
// mutation of rotation and on-demand state happens on the loop goroutine;
// other goroutines only read the published snapshot.
type Engine struct {
	cfg   config.AppConfig
	reg   *plugin.Registry
	exec  *executor.Executor
	ch    channel.Channel
	drv   panel.Driver
	clock Clock

	banners *banner.Reader
	logger  zerolog.Logger
	tracer  trace.Tracer

	rot         rotation
	session     *session
	forceChange bool

	status    string
	lastEvent string
	lastError string

	processedID   string
	lastPublished float64

	activeBanner   *banner.Banner
	lastBannerRead time.Time

	lastRendered decision
	lastDynamic  string

	prevActive *bool
	prevDimmed *bool
	brightness int

	panelCleared bool

	cfgCh <-chan config.AppConfig

	updMu      sync.Mutex
	lastUpdate map[string]time.Time
	updating   map[string]bool

	warnChannelLim  *rate.Limiter
	warnNoModesLim  *rate.Limiter
	warnSliceLim    *rate.Limiter
	warnScheduleLim *rate.Limiter
	warnBannerLim   *rate.Limiter

	lastIterNano atomic.Int64
	snap         atomic.Pointer[Snapshot]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithConfigUpdates wires the config holder's notification channel; the
// loop drains it between iterations, never inside a slice.
func WithConfigUpdates(ch <-chan config.AppConfig) Option {
	return func(e *Engine) { e.cfgCh = ch }
}

// New assembles the engine. The registry must already be populated; the
// channel and driver are owned by the caller except that Run clears and
// closes the driver on exit.
func New(cfg config.AppConfig, reg *plugin.Registry, exec *executor.Executor, ch channel.Channel, drv panel.Driver, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		reg:     reg,
		exec:    exec,
		ch:      ch,
		drv:     drv,
		clock:   realClock{},
		banners: banner.NewReader(cfg.Banner.Path),
		logger:  log.WithComponent("engine"),
		tracer:  telemetry.Tracer("engine"),
		status:  statusIdle,

		brightness: -1,
		lastUpdate: make(map[string]time.Time),
		updating:   make(map[string]bool),

		warnChannelLim:  rate.NewLimiter(rate.Every(time.Minute), 1),
		warnNoModesLim:  rate.NewLimiter(rate.Every(time.Minute), 1),
		warnSliceLim:    rate.NewLimiter(rate.Every(time.Minute), 1),
		warnScheduleLim: rate.NewLimiter(rate.Every(time.Minute), 1),
		warnBannerLim:   rate.NewLimiter(rate.Every(time.Minute), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives iterations until ctx ends, then blanks the panel and
// releases the driver.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Str("event", "engine.started").
		Int("plugins", e.reg.Len()).
		Msg("display engine started")

	e.restoreSession(ctx)
	e.rot.rebuild(e.reg.Rotation())
	e.publishState(ctx)

	for ctx.Err() == nil {
		e.runIteration(ctx)
	}

	if err := e.drv.Clear(); err != nil {
		e.logger.Warn().Err(err).Str("event", "engine.final_clear_failed").Msg("panel clear on shutdown failed")
	}
	err := e.drv.Close()
	e.logger.Info().Str("event", "engine.stopped").Msg("display engine stopped")
	if err != nil {
		return errors.Join(errors.New("release panel driver"), err)
	}
	return nil
}

// runIteration is one full pass: drain config, service directives,
// evaluate schedules, arbitrate, render one slice, publish, advance.
// Exposed to tests through the package-internal test harness only.
func (e *Engine) runIteration(ctx context.Context) {
	metrics.IncIteration()
	defer func() {
		e.lastIterNano.Store(e.clock.Now().UnixNano())
		e.storeSnapshot()
	}()

	e.drainConfig()
	e.pollRequests(ctx)
	e.checkExpiry(ctx)
	e.tickUpdates(ctx)

	if e.session == nil {
		// Rebuilding during a session would fold a temporarily enabled
		// plugin into the rotation and invalidate the resume cursor.
		e.rot.rebuild(e.reg.Rotation())
	}

	now := e.clock.Now()
	dec := schedule.Evaluate(now, e.cfg.Schedule.Active, e.cfg.Schedule.Dim, e.cfg.Display.Hardware.Brightness)
	e.reportDegraded(dec.Degraded)

	// An active on-demand session overrides an inactive schedule for the
	// length of the request.
	active := dec.DisplayActive || e.session != nil
	e.logActiveTransition(active)
	metrics.SetDisplayActive(active)

	if !active {
		if !e.panelCleared {
			if err := e.drv.Clear(); err != nil {
				e.logger.Warn().Err(err).Str("event", "engine.clear_failed").Msg("panel clear failed")
			}
			e.panelCleared = true
			e.publishState(ctx)
		}
		metrics.SetDisplaySource(string(SourceNone))
		e.idleSleep(ctx)
		return
	}

	e.applyBrightness(dec)

	choice := e.decide(now, true)
	metrics.SetDisplaySource(string(choice.src))

	switch choice.src {
	case SourceNone:
		if e.warnNoModesLim.Allow() {
			e.logger.Warn().
				Str("event", "engine.no_modes").
				Msg("no display modes available, waiting")
		}
		e.idleSleep(ctx)
		return

	case SourceBanner:
		e.renderBanner(choice.banner)
		e.panelCleared = false
		metrics.IncBannerDisplay()
		e.clock.Sleep(ctx, bannerSleep)
		return

	case SourceTicker:
		e.runTicker(ctx)
		return
	}

	e.noteSwitch(choice)
	res := e.renderSlice(ctx, choice)
	e.panelCleared = false

	e.publishState(ctx)
	e.advanceAfter(choice, res)

	// Failed and circuit-open slices end without reaching a sleep point;
	// a rotation made entirely of such plugins must not spin the loop.
	if res.outcome == executor.OutcomeFailed || res.outcome == executor.OutcomeSkipped {
		e.clock.Sleep(ctx, tickNormal)
	}
}

// noteSwitch arms the one-shot clear flag when the content source or mode
// changed since the last slice.
func (e *Engine) noteSwitch(choice decision) {
	if !choice.same(e.lastRendered) {
		e.forceChange = true
		if choice.src == SourceLive && e.lastRendered.src != SourceLive {
			e.logger.Info().
				Str("event", "engine.live_promoted").
				Str(log.FieldPlugin, choice.ref.pluginID()).
				Str(log.FieldMode, choice.ref.name()).
				Msg("live content preempts rotation")
		}
	}
	e.lastRendered = choice
}

// advanceAfter moves the cursor(s) once a slice ends. Live slices hold
// the rotation in place so normal rotation resumes with the successor of
// the live mode when the event ends.
func (e *Engine) advanceAfter(choice decision, res sliceResult) {
	switch choice.src {
	case SourceOnDemand:
		if s := e.session; s != nil && len(s.modes) > 1 && !res.changed {
			s.modeIndex = (s.modeIndex + 1) % len(s.modes)
		}
	case SourceRotation:
		if res.changed {
			return
		}
		if res.failedHard {
			// A broken plugin forfeits its remaining modes this round.
			e.rot.advancePast(choice.ref.pluginID())
			return
		}
		e.rot.advance()
	case SourceLive:
		if res.changed {
			return
		}
		// Move past the live entry. The next live scan re-seeks it while
		// the claim holds, so rotation resumes with the successor once
		// the event ends.
		if e.rot.current().name() == choice.ref.name() {
			e.rot.advance()
		}
	}
}

type sliceResult struct {
	outcome    executor.Outcome
	failedHard bool
	changed    bool
	elapsed    time.Duration
}

// renderSlice runs the inner render loop for one mode: repeated display
// calls at the plugin's tick rate until the budget, the cycle boundary,
// or an external change ends the slice.
func (e *Engine) renderSlice(ctx context.Context, choice decision) sliceResult {
	desc := choice.ref.desc
	mode := choice.ref.mode

	minDur, maxDur, dynamic := e.sliceBudget(choice)

	tick := tickNormal
	if desc.ScrollingEnabled() {
		tick = tickFast
	}

	key := choice.ref.pluginID() + "\x00" + mode
	if dynamic && key != e.lastDynamic {
		desc.ResetCycle()
	}
	if dynamic {
		e.lastDynamic = key
	} else {
		e.lastDynamic = ""
	}

	sliceCtx, span := e.tracer.Start(ctx, "engine.slice")
	span.SetAttributes(telemetry.SliceAttributes(desc.ID, choice.ref.name(), string(choice.src))...)
	defer span.End()

	start := e.clock.Now()
	res := sliceResult{outcome: executor.OutcomeNoContent}
	earlyExit := false

	for {
		dr := e.exec.Display(sliceCtx, desc, mode, e.forceChange)
		if dr.Outcome != executor.OutcomeSkipped {
			// One clear per switch: the flag drops after the first call
			// that actually reached the plugin.
			e.forceChange = false
		}

		switch dr.Outcome {
		case executor.OutcomeFailed:
			res.outcome = executor.OutcomeFailed
			res.failedHard = true
			span.SetAttributes(telemetry.ErrorAttributes(dr.Err)...)
			e.logger.Warn().
				Err(dr.Err).
				Str("event", "engine.display_failed").
				Str(log.FieldPlugin, desc.ID).
				Str(log.FieldMode, choice.ref.name()).
				Msg("display call failed")
			res.elapsed = e.clock.Now().Sub(start)
			metrics.RecordSlice(desc.ID, string(res.outcome), res.elapsed.Seconds())
			return res
		case executor.OutcomeSkipped:
			res.outcome = executor.OutcomeSkipped
			res.elapsed = e.clock.Now().Sub(start)
			metrics.RecordSlice(desc.ID, string(res.outcome), res.elapsed.Seconds())
			return res
		case executor.OutcomeNoContent:
			if !dynamic {
				earlyExit = true
			}
		case executor.OutcomeRendered:
			res.outcome = executor.OutcomeRendered
		}

		if earlyExit {
			break
		}

		if !e.clock.Sleep(ctx, tick) {
			break
		}
		e.tickUpdates(ctx)
		e.pollRequests(ctx)
		e.checkExpiry(ctx)

		now := e.clock.Now()
		if cur := e.decide(now, e.shouldReadBanner(now)); !cur.same(choice) {
			res.changed = true
			break
		}

		elapsed := now.Sub(start)
		if elapsed >= maxDur {
			break
		}
		if dynamic && elapsed >= minDur+cycleGrace && desc.CycleComplete() {
			break
		}
	}

	res.elapsed = e.clock.Now().Sub(start)

	// A non-dynamic mode that ran out of content keeps its slot for the
	// remainder of the slice so the rotation cadence stays stable.
	if earlyExit && !res.changed && ctx.Err() == nil {
		if remaining := maxDur - res.elapsed; remaining > 0 {
			if e.tickableSleep(ctx, remaining, choice) {
				res.elapsed = e.clock.Now().Sub(start)
			} else {
				res.changed = true
				res.elapsed = e.clock.Now().Sub(start)
			}
		}
	}

	metrics.RecordSlice(desc.ID, string(res.outcome), res.elapsed.Seconds())
	return res
}

// sliceBudget computes (minDur, maxDur, dynamic) for the chosen mode.
// Non-positive configuration degrades to safe defaults with a throttled
// warning.
func (e *Engine) sliceBudget(choice decision) (time.Duration, time.Duration, bool) {
	desc := choice.ref.desc

	base := desc.SliceDuration(choice.ref.mode, e.cfg.Display.DefaultDuration.D())
	if base <= 0 {
		if e.warnSliceLim.Allow() {
			e.logger.Warn().
				Str("event", "engine.slice_sanitized").
				Str(log.FieldPlugin, desc.ID).
				Dur("configured", base).
				Msg("non-positive slice duration, using safe default")
		}
		base = safeSlice
	}

	dynamic := desc.CanCycle && e.cfg.Display.Dynamic.Enabled
	if !dynamic {
		return base, base, false
	}

	capDur := e.cfg.Display.Dynamic.MaxDuration.D()
	if capDur <= 0 {
		if e.warnSliceLim.Allow() {
			e.logger.Warn().
				Str("event", "engine.cap_sanitized").
				Msg("non-positive dynamic cap, using safe default")
		}
		capDur = safeCap
	}
	if pc := desc.DynamicCap(); pc > 0 && pc < capDur {
		capDur = pc
	}
	if s := e.session; s != nil && !s.expiresAt.IsZero() {
		if rem := s.remaining(e.clock.Now()); rem > 0 && rem < capDur {
			capDur = rem
		}
	}

	target := capDur
	if cycle := desc.CycleDuration(choice.ref.mode); cycle > 0 && cycle < target {
		target = cycle
	}

	minDur := base
	maxDur := target
	if maxDur < minDur {
		maxDur = minDur
	}
	return minDur, maxDur, true
}

// tickableSleep waits out d in idle ticks while still servicing
// directives and updates. It returns false when the current decision no
// longer stands or ctx ended.
func (e *Engine) tickableSleep(ctx context.Context, d time.Duration, cur decision) bool {
	deadline := e.clock.Now().Add(d)
	for {
		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return true
		}
		step := idleTick
		if remaining < step {
			step = remaining
		}
		if !e.clock.Sleep(ctx, step) {
			return false
		}
		e.tickUpdates(ctx)
		e.pollRequests(ctx)
		e.checkExpiry(ctx)
		now := e.clock.Now()
		if next := e.decide(now, e.shouldReadBanner(now)); !next.same(cur) {
			return false
		}
	}
}

// idleSleep is the coarse wait used while the panel is off or there is
// nothing to show. A watch on the request key cuts the tick short the
// moment a directive lands; the tick itself covers schedule flips and
// backends whose Watch only polls.
func (e *Engine) idleSleep(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wake := e.ch.Watch(watchCtx, channel.KeyRequest)

	deadline := e.clock.Now().Add(idleSleep)
	for e.clock.Now().Before(deadline) {
		if !e.clock.SleepWake(ctx, idleTick, wake) {
			return
		}
		e.tickUpdates(ctx)
		e.pollRequests(ctx)
		e.checkExpiry(ctx)
		if e.session != nil {
			return
		}
		dec := schedule.Evaluate(e.clock.Now(), e.cfg.Schedule.Active, e.cfg.Schedule.Dim, e.cfg.Display.Hardware.Brightness)
		if dec.DisplayActive {
			return
		}
	}
}

// renderBanner paints the connectivity message centered, word-wrapped to
// at most two lines, white on black.
func (e *Engine) renderBanner(b *banner.Banner) {
	rows, cols := e.drv.Size()
	f := panel.NewFrame(rows, cols)

	lines := banner.Wrap(b.Message, panel.TextCols(cols))
	lineH := panel.GlyphHeight + 1
	y := (rows - (len(lines)*lineH - 1)) / 2
	if y < 0 {
		y = 0
	}
	for _, line := range lines {
		x := (cols - panel.StringWidth(line)) / 2
		if x < 0 {
			x = 0
		}
		panel.DrawString(f, x, y, line, panel.White)
		y += lineH
	}

	if err := e.drv.Render(f); err != nil {
		e.logger.Warn().Err(err).Str("event", "engine.banner_render_failed").Msg("banner render failed")
	}
}

// applyBrightness pushes a changed brightness to the driver and logs dim
// transitions.
func (e *Engine) applyBrightness(dec schedule.Decision) {
	if e.prevDimmed == nil || *e.prevDimmed != dec.Dimmed {
		if e.prevDimmed != nil {
			ev := "engine.dim_entered"
			if !dec.Dimmed {
				ev = "engine.dim_left"
			}
			e.logger.Info().
				Str("event", ev).
				Int(log.FieldBrightness, dec.Brightness).
				Msg("dim schedule transition")
		}
		d := dec.Dimmed
		e.prevDimmed = &d
	}

	if dec.Brightness == e.brightness {
		return
	}
	if err := e.drv.SetBrightness(dec.Brightness); err != nil {
		e.logger.Warn().
			Err(err).
			Str("event", "engine.brightness_failed").
			Int(log.FieldBrightness, dec.Brightness).
			Msg("brightness change failed")
		return
	}
	e.brightness = dec.Brightness
	metrics.SetBrightness(dec.Brightness)
}

func (e *Engine) logActiveTransition(active bool) {
	if e.prevActive != nil && *e.prevActive == active {
		return
	}
	if e.prevActive != nil {
		ev := "engine.display_activated"
		if !active {
			ev = "engine.display_deactivated"
		}
		e.logger.Info().
			Str("event", ev).
			Bool("active", active).
			Msg("schedule transition")
	}
	a := active
	e.prevActive = &a
}

func (e *Engine) reportDegraded(fields []string) {
	if len(fields) == 0 {
		return
	}
	if e.warnScheduleLim.Allow() {
		e.logger.Warn().
			Str("event", "engine.schedule_degraded").
			Strs("fields", fields).
			Msg("schedule has unparseable times, treating window as always active")
	}
}

// tickUpdates launches due background refreshes, at most one in flight
// per plugin. The loop never blocks on them.
func (e *Engine) tickUpdates(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := e.clock.Now()
	for _, d := range e.reg.Rotation() {
		if !d.CanUpdate {
			continue
		}
		e.updMu.Lock()
		last, seen := e.lastUpdate[d.ID]
		if e.updating[d.ID] || (seen && now.Sub(last) < updateInterval) {
			e.updMu.Unlock()
			continue
		}
		e.updating[d.ID] = true
		e.lastUpdate[d.ID] = now
		e.updMu.Unlock()

		go func(d *plugin.Descriptor) {
			defer func() {
				e.updMu.Lock()
				e.updating[d.ID] = false
				e.updMu.Unlock()
			}()
			_ = e.exec.Update(ctx, d)
		}(d)
	}
}

// drainConfig applies pending config reloads between iterations.
func (e *Engine) drainConfig() {
	if e.cfgCh == nil {
		return
	}
	for {
		select {
		case cfg, ok := <-e.cfgCh:
			if !ok {
				e.cfgCh = nil
				return
			}
			e.cfg = cfg
			e.banners = banner.NewReader(cfg.Banner.Path)
			e.brightness = -1 // force re-apply
			e.logger.Info().
				Str("event", "engine.config_applied").
				Msg("configuration reload applied")
		default:
			return
		}
	}
}

func (e *Engine) shouldReadBanner(now time.Time) bool {
	if now.Sub(e.lastBannerRead) < bannerReadInterval {
		return false
	}
	e.lastBannerRead = now
	return true
}

func (e *Engine) warnChannel(err error) {
	if e.warnChannelLim.Allow() {
		e.logger.Warn().Err(err).Str("event", "engine.channel_error").Msg("request channel operation failed")
	}
}

func (e *Engine) warnBanner(err error) {
	if e.warnBannerLim.Allow() {
		e.logger.Warn().Err(err).Str("event", "engine.banner_read_failed").Msg("banner file read failed")
	}
}

// Snapshot is the read-only view served by the debug endpoint.
type Snapshot struct {
	Source        string    `json:"source"`
	Rotation      []string  `json:"rotation"`
	RotationIndex int       `json:"rotation_index"`
	Status        string    `json:"status"`
	LastEvent     string    `json:"last_event,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Brightness    int       `json:"brightness"`
	LastIteration time.Time `json:"last_iteration"`
}

func (e *Engine) storeSnapshot() {
	e.snap.Store(&Snapshot{
		Source:        string(e.lastRendered.src),
		Rotation:      e.rot.names(),
		RotationIndex: e.rot.index,
		Status:        e.status,
		LastEvent:     e.lastEvent,
		LastError:     e.lastError,
		Brightness:    e.brightness,
		LastIteration: time.Unix(0, e.lastIterNano.Load()),
	})
}

// Snapshot returns the latest iteration snapshot; nil before the first
// iteration completes.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// LastIteration reports when the loop last completed an iteration, for
// the liveness checker.
func (e *Engine) LastIteration() time.Time {
	return time.Unix(0, e.lastIterNano.Load())
}
