package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/schedule"
)

// interruptCheckEvery is how many frames the compositor emits between
// probes for higher-priority work.
const interruptCheckEvery = 10

// runTicker drives the scrolling compositor until something with higher
// priority wants the panel. On exit the run loop falls back to normal
// per-iteration arbitration.
func (e *Engine) runTicker(ctx context.Context) {
	cfg := e.cfg.Display.Scroll
	rows, cols := e.drv.Size()

	ribbon, err := e.composeRibbon(ctx, rows, cfg.GapPx)
	if err != nil || ribbon == nil {
		if err != nil && e.warnSliceLim.Allow() {
			e.logger.Warn().Err(err).Str("event", "ticker.compose_failed").Msg("compositor has no content")
		}
		// Nothing to scroll; wait a beat so the loop does not spin.
		e.clock.Sleep(ctx, tickNormal)
		return
	}

	fps := cfg.TargetFPS
	if fps <= 0 {
		fps = 30
	}
	speed := cfg.ScrollSpeed
	if speed <= 0 {
		speed = 1
	}
	buffer := cfg.BufferAhead
	if buffer < 1 {
		buffer = 1
	}

	limiter := rate.NewLimiter(rate.Limit(fps), 1)
	e.logger.Info().
		Str("event", "ticker.started").
		Int("fps", fps).
		Int("ribbon_px", ribbon.Cols).
		Msg("scroll compositor started")

	offset := 0
	frames := 0

	// Look-ahead queue: windows are cut ahead of time so the draw step is
	// a plain render of a prepared frame.
	queue := make([]*panel.Frame, 0, buffer)
	fill := func() {
		for len(queue) < buffer {
			queue = append(queue, cutWindow(ribbon, offset+len(queue)*speed, rows, cols))
		}
	}

	for ctx.Err() == nil {
		if frames%interruptCheckEvery == 0 && e.tickerInterrupted(ctx) {
			e.logger.Debug().Str("event", "ticker.yield").Msg("compositor yields the panel")
			return
		}

		fill()
		frame := queue[0]
		queue = queue[1:]

		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := e.drv.Render(frame); err != nil {
			e.logger.Warn().Err(err).Str("event", "ticker.render_failed").Msg("compositor render failed")
			return
		}
		e.panelCleared = false
		metrics.AddScrollFrames(1)

		frames++
		offset = (offset + speed) % ribbon.Cols
		if frames%ribbon.Cols == 0 {
			// One full pass: refresh content so long-running tickers do
			// not scroll stale data forever.
			if fresh, err := e.composeRibbon(ctx, rows, cfg.GapPx); err == nil && fresh != nil {
				ribbon = fresh
				queue = queue[:0]
			}
		}
	}
}

// tickerInterrupted services directives and reports whether a
// higher-priority source (on-demand, banner, live, schedule-off) needs
// the panel.
func (e *Engine) tickerInterrupted(ctx context.Context) bool {
	e.pollRequests(ctx)
	e.checkExpiry(ctx)
	if e.session != nil {
		return true
	}

	now := e.clock.Now()
	dec := e.decide(now, e.shouldReadBanner(now))
	if dec.src == SourceOnDemand || dec.src == SourceBanner || dec.src == SourceLive {
		return true
	}

	sched := schedule.Evaluate(now, e.cfg.Schedule.Active, e.cfg.Schedule.Dim, e.cfg.Display.Hardware.Brightness)
	return !sched.DisplayActive
}

// composeRibbon collects every participating plugin's frame bag and lays
// them out horizontally with gap columns between segments. Plugins listed
// in plugin_order come first, in that order; the rest follow in
// registration order.
func (e *Engine) composeRibbon(ctx context.Context, rows, gap int) (*panel.Frame, error) {
	if gap <= 0 {
		gap = 8
	}

	sources := e.tickerSources()
	if len(sources) == 0 {
		return nil, nil
	}

	var segments []*panel.Frame
	var totalW int
	for _, d := range sources {
		frames, err := e.collectFrames(ctx, d)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("event", "ticker.frames_failed").
				Str(log.FieldPlugin, d.ID).
				Msg("skipping plugin in compositor")
			continue
		}
		for _, f := range frames {
			if f == nil || f.Rows != rows || f.Cols <= 0 {
				continue
			}
			segments = append(segments, f)
			totalW += f.Cols + gap
		}
	}
	if len(segments) == 0 {
		return nil, nil
	}

	ribbon := panel.NewFrame(rows, totalW)
	x := 0
	for _, seg := range segments {
		for sy := 0; sy < seg.Rows; sy++ {
			for sx := 0; sx < seg.Cols; sx++ {
				ribbon.Set(x+sx, sy, seg.At(sx, sy))
			}
		}
		x += seg.Cols + gap
	}
	return ribbon, nil
}

// collectFrames fetches one plugin's ticker frames with a bounded call;
// a panicking plugin loses its segment, not the compositor.
func (e *Engine) collectFrames(ctx context.Context, d *plugin.Descriptor) (frames []*panel.Frame, err error) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ticker frames panicked: %v", r)
		}
	}()
	return d.TickerFrames(callCtx)
}

// tickerSources orders the participating plugins: configured order first,
// then the remaining ticker-capable plugins in registration order.
func (e *Engine) tickerSources() []*plugin.Descriptor {
	enabled := e.reg.Rotation()
	byID := make(map[string]*plugin.Descriptor, len(enabled))
	for _, d := range enabled {
		if d.CanTicker && !e.tickerExcluded(d.ID) {
			byID[d.ID] = d
		}
	}

	out := make([]*plugin.Descriptor, 0, len(byID))
	seen := make(map[string]bool, len(byID))
	for _, id := range e.cfg.Display.Scroll.PluginOrder {
		if d, ok := byID[id]; ok && !seen[id] {
			out = append(out, d)
			seen[id] = true
		}
	}
	for _, d := range enabled {
		if byID[d.ID] != nil && !seen[d.ID] {
			out = append(out, d)
			seen[d.ID] = true
		}
	}
	return out
}

// cutWindow copies a panel-sized window out of the ribbon starting at
// offset, wrapping around the ribbon end.
func cutWindow(ribbon *panel.Frame, offset, rows, cols int) *panel.Frame {
	w := panel.NewFrame(rows, cols)
	if ribbon.Cols == 0 {
		return w
	}
	offset %= ribbon.Cols
	if offset < 0 {
		offset += ribbon.Cols
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			w.Set(x, y, ribbon.At((offset+x)%ribbon.Cols, y))
		}
	}
	return w
}
