package engine

import (
	"strings"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/banner"
)

// Source tags which arbitration branch owns the panel this iteration. The
// tag shows up in logs, metrics and the published state.
type Source string

const (
	SourceOnDemand Source = "on_demand"
	SourceBanner   Source = "banner"
	SourceLive     Source = "live_priority"
	SourceTicker   Source = "ticker"
	SourceRotation Source = "rotation"
	SourceNone     Source = "none"
)

// decision is the arbiter's verdict for one iteration.
type decision struct {
	src    Source
	ref    modeRef
	banner *banner.Banner
}

// same reports whether two decisions select the same content, used by the
// inner render loop to detect external mode changes.
func (d decision) same(other decision) bool {
	return d.src == other.src &&
		d.ref.pluginID() == other.ref.pluginID() &&
		d.ref.mode == other.ref.mode
}

// decide picks the next content source in fixed priority order:
// on-demand, banner, live priority, ticker, rotation. It never sleeps;
// the run loop owns all waiting.
func (e *Engine) decide(now time.Time, readBanner bool) decision {
	// 1. An active on-demand session owns the panel outright.
	if s := e.session; s != nil {
		return decision{src: SourceOnDemand, ref: s.current()}
	}

	// 2. Connectivity banner. Never preempts on-demand, always preempts
	// content. readBanner gates the file I/O so the 8 ms inner loop does
	// not hammer the filesystem; between reads the cached banner stands
	// until it expires.
	if readBanner {
		b, err := e.banners.Read(now)
		if err != nil {
			e.warnBanner(err)
		}
		e.activeBanner = b
	}
	if e.activeBanner != nil {
		if e.activeBanner.Expired(now) {
			e.banners.Clear()
			e.activeBanner = nil
		} else {
			return decision{src: SourceBanner, banner: e.activeBanner}
		}
	}

	// 3. Live priority scan, first claimant in registration order wins.
	if ref, ok := e.scanLive(); ok {
		return decision{src: SourceLive, ref: ref}
	}

	// 4. Ticker compositor, when configured.
	if e.cfg.Display.Scroll.Enabled && e.tickerAvailable() {
		return decision{src: SourceTicker}
	}

	// 5. Normal rotation.
	if e.rot.empty() {
		return decision{src: SourceNone}
	}
	return decision{src: SourceRotation, ref: e.rot.current()}
}

// scanLive asks every live-capable enabled plugin whether it claims the
// panel. The preferred live mode is the first one present in the rotation;
// a mode carrying the _live suffix is accepted even when it is not part of
// the rotation, so plugins can keep event-only modes out of the idle
// cycle.
func (e *Engine) scanLive() (modeRef, bool) {
	for _, d := range e.reg.Rotation() {
		if !d.CanLive || !d.WantsLive() {
			continue
		}
		for _, mode := range d.LiveModes() {
			if e.rot.seek(mode) {
				return e.rot.current(), true
			}
			if strings.HasSuffix(mode, "_live") {
				return modeRef{desc: d, mode: mode}, true
			}
		}
	}
	return modeRef{}, false
}

// tickerAvailable reports whether at least one enabled plugin can feed the
// compositor.
func (e *Engine) tickerAvailable() bool {
	for _, d := range e.reg.Rotation() {
		if d.CanTicker && !e.tickerExcluded(d.ID) {
			return true
		}
	}
	return false
}

func (e *Engine) tickerExcluded(id string) bool {
	for _, ex := range e.cfg.Display.Scroll.ExcludedPlugins {
		if ex == id {
			return true
		}
	}
	return false
}
