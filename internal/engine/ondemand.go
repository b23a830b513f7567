package engine

import (
	"context"
	"errors"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/channel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
)

// On-demand lifecycle statuses, part of the published wire contract.
const (
	statusIdle   = "idle"
	statusActive = "active"
	statusError  = "error"
)

// Published last_event values.
const (
	eventStarted       = "started"
	eventExpired       = "expired"
	eventRequestedStop = "requested-stop"
	eventStopIgnored   = "stop-request-ignored"
	eventError         = "error"
)

// session is one active on-demand request. The run loop owns it; external
// callers only ever write to the request channel.
type session struct {
	requestID string
	desc      *plugin.Descriptor
	modes     []string
	modeIndex int
	pinned    bool
	startedAt time.Time

	// expiresAt is zero for pinned sessions.
	expiresAt time.Time

	// resumeIndex restores the rotation cursor when the session ends.
	resumeIndex int

	// tempEnabled marks that the session enabled a disabled plugin; the
	// enable is reverted when the session ends and never persisted.
	tempEnabled bool
}

// current returns the session's active mode entry.
func (s *session) current() modeRef {
	if len(s.modes) == 0 {
		return modeRef{desc: s.desc}
	}
	if s.modeIndex >= len(s.modes) {
		s.modeIndex = 0
	}
	return modeRef{desc: s.desc, mode: s.modes[s.modeIndex]}
}

// remaining returns the time left, or zero when pinned.
func (s *session) remaining(now time.Time) time.Duration {
	if s.expiresAt.IsZero() {
		return 0
	}
	d := s.expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// pollRequests consumes at most one directive from the request channel.
// Read errors skip this poll; the next iteration retries.
func (e *Engine) pollRequests(ctx context.Context) {
	data, ok, err := e.ch.Get(ctx, channel.KeyRequest)
	if err != nil {
		e.warnChannel(err)
		return
	}
	if !ok {
		return
	}

	req, err := channel.DecodeRequest(data)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("event", "ondemand.request_invalid").
			Msg("discarding malformed on-demand request")
		metrics.RecordRequestProcessed("unknown", "invalid")
		e.consumeRequest(ctx)
		return
	}

	switch req.Action {
	case channel.ActionStop:
		// Stops are processed even for seen request ids; the operator may
		// click repeatedly and must always win.
		e.consumeRequest(ctx)
		e.handleStop(ctx, req)
	case channel.ActionStart:
		e.consumeRequest(ctx)
		if req.RequestID == e.processedID {
			metrics.RecordRequestProcessed(req.Action, "duplicate")
			return
		}
		e.handleStart(ctx, req)
	}
}

// consumeRequest removes the request record so one directive is applied
// exactly once per submission.
func (e *Engine) consumeRequest(ctx context.Context) {
	if err := e.ch.Delete(ctx, channel.KeyRequest); err != nil {
		e.warnChannel(err)
	}
}

// markProcessed records the request id before any state mutation, making
// request consumption idempotent across restarts.
func (e *Engine) markProcessed(ctx context.Context, requestID string) {
	e.processedID = requestID
	if err := e.ch.Set(ctx, channel.KeyProcessedID, []byte(requestID)); err != nil {
		e.warnChannel(err)
	}
}

func (e *Engine) handleStop(ctx context.Context, req *channel.Request) {
	e.markProcessed(ctx, req.RequestID)

	if e.session == nil {
		e.lastEvent = eventStopIgnored
		metrics.RecordRequestProcessed(req.Action, "ignored")
		metrics.RecordOnDemandEvent("", eventStopIgnored)
		e.publishState(ctx)
		return
	}
	metrics.RecordRequestProcessed(req.Action, "accepted")
	e.endSession(ctx, eventRequestedStop)
}

func (e *Engine) handleStart(ctx context.Context, req *channel.Request) {
	e.markProcessed(ctx, req.RequestID)

	desc, err := e.resolveTarget(req)
	if err != nil {
		e.status = statusError
		e.lastEvent = eventError
		e.lastError = err.Error()
		e.logger.Warn().
			Err(err).
			Str("event", "ondemand.request_rejected").
			Str(log.FieldRequestID, req.RequestID).
			Str(log.FieldPlugin, req.PluginID).
			Str(log.FieldMode, req.Mode).
			Msg("on-demand start rejected")
		metrics.RecordRequestProcessed(req.Action, "invalid")
		e.publishState(ctx)
		return
	}

	// A new start replaces a running session without touching the saved
	// rotation cursor twice.
	resume := e.rot.index
	if e.session != nil {
		resume = e.session.resumeIndex
		e.teardownSession(ctx, e.session)
	}

	now := e.clock.Now()
	s := &session{
		requestID:   req.RequestID,
		desc:        desc,
		modes:       sessionModes(desc, req.Mode),
		pinned:      req.Pinned || req.Duration <= 0,
		startedAt:   now,
		resumeIndex: resume,
	}
	if !s.pinned {
		s.expiresAt = now.Add(time.Duration(req.Duration * float64(time.Second)))
	}

	if !e.reg.Enabled(desc.ID) {
		// Temporary enable for the length of the request. The lifecycle
		// hook fires; plugins must keep it idempotent.
		if err := e.reg.SetEnabled(ctx, desc.ID, true); err != nil {
			e.logger.Warn().
				Err(err).
				Str("event", "ondemand.enable_failed").
				Str(log.FieldPlugin, desc.ID).
				Msg("could not enable plugin for on-demand request")
		}
		s.tempEnabled = true
	}

	e.session = s
	e.status = statusActive
	e.lastEvent = eventStarted
	e.lastError = ""
	e.forceChange = true

	e.logger.Info().
		Str("event", "ondemand.started").
		Str(log.FieldRequestID, req.RequestID).
		Str(log.FieldPlugin, desc.ID).
		Str(log.FieldMode, s.current().name()).
		Bool("pinned", s.pinned).
		Float64(log.FieldDurationS, req.Duration).
		Msg("on-demand session started")
	metrics.RecordRequestProcessed(req.Action, "accepted")
	metrics.RecordOnDemandEvent(desc.ID, eventStarted)

	e.persistSession(ctx, req)
	e.publishState(ctx)
}

// resolveTarget maps a start request onto a registered plugin. A request
// may name only a mode; the owner is then looked up across the registry.
func (e *Engine) resolveTarget(req *channel.Request) (*plugin.Descriptor, error) {
	id := req.PluginID
	if id == "" {
		owner, ok := e.findModeOwner(req.Mode)
		if !ok {
			return nil, plugin.ErrInvalidMode
		}
		id = owner
	}
	if err := e.reg.ValidateMode(id, req.Mode); err != nil {
		// A bare plugin_id targeting a multi-mode plugin defaults to its
		// first mode rather than failing with missing-mode.
		if errors.Is(err, plugin.ErrMissingMode) && req.Mode == "" {
			if d, ok := e.reg.Get(id); ok && len(d.Modes) > 0 {
				return d, nil
			}
		}
		return nil, err
	}
	d, ok := e.reg.Get(id)
	if !ok {
		return nil, plugin.ErrUnknownPlugin
	}
	return d, nil
}

func (e *Engine) findModeOwner(mode string) (string, bool) {
	if mode == "" {
		return "", false
	}
	for _, d := range e.reg.All() {
		if d.HasMode(mode) {
			return d.ID, true
		}
	}
	return "", false
}

// sessionModes builds the ordered mode list the session rotates over: the
// explicit request mode alone, else every mode of the plugin.
func sessionModes(desc *plugin.Descriptor, mode string) []string {
	if mode != "" {
		return []string{mode}
	}
	if len(desc.Modes) == 0 {
		return nil
	}
	out := make([]string, len(desc.Modes))
	copy(out, desc.Modes)
	return out
}

// checkExpiry ends the session once its deadline passes. Called at the
// top of every iteration and inside every inner render loop, so the
// preemption latency is bounded by the render tick.
func (e *Engine) checkExpiry(ctx context.Context) {
	s := e.session
	if s == nil || s.pinned || s.expiresAt.IsZero() {
		return
	}
	if !e.clock.Now().Before(s.expiresAt) {
		e.endSession(ctx, eventExpired)
	}
}

// endSession tears the session down, restores the rotation cursor and
// publishes the transition.
func (e *Engine) endSession(ctx context.Context, event string) {
	s := e.session
	if s == nil {
		return
	}
	e.teardownSession(ctx, s)
	e.session = nil

	e.rot.setIndex(s.resumeIndex)
	e.forceChange = true
	e.status = statusIdle
	e.lastEvent = event
	e.lastError = ""

	e.logger.Info().
		Str("event", "ondemand.ended").
		Str(log.FieldRequestID, s.requestID).
		Str(log.FieldPlugin, s.desc.ID).
		Str(log.FieldReason, event).
		Msg("on-demand session ended")
	metrics.RecordOnDemandEvent(s.desc.ID, event)

	if err := e.ch.Delete(ctx, channel.KeyConfig); err != nil {
		e.warnChannel(err)
	}
	e.publishState(ctx)
}

// teardownSession reverts a temporary enable without publishing.
func (e *Engine) teardownSession(ctx context.Context, s *session) {
	if s.tempEnabled {
		if err := e.reg.SetEnabled(ctx, s.desc.ID, false); err != nil {
			e.logger.Warn().
				Err(err).
				Str("event", "ondemand.disable_failed").
				Str(log.FieldPlugin, s.desc.ID).
				Msg("could not revert temporary enable")
		}
	}
}

// persistSession snapshots the active directive so a restart resumes it.
func (e *Engine) persistSession(ctx context.Context, req *channel.Request) {
	s := e.session
	if s == nil {
		return
	}
	snap := &channel.Session{
		Request:   *req,
		StartedAt: toEpoch(s.startedAt),
		ResumeIdx: s.resumeIndex,
	}
	if !s.expiresAt.IsZero() {
		snap.ExpiresAt = toEpoch(s.expiresAt)
	}
	data, err := channel.EncodeSession(snap)
	if err != nil {
		e.logger.Error().Err(err).Str("event", "ondemand.persist_failed").Msg("session snapshot not written")
		return
	}
	if err := e.ch.Set(ctx, channel.KeyConfig, data); err != nil {
		e.warnChannel(err)
	}
}

// restoreSession rebuilds an on-demand session from the channel after a
// restart. Expired or no-longer-valid snapshots are dropped.
func (e *Engine) restoreSession(ctx context.Context) {
	if data, ok, err := e.ch.Get(ctx, channel.KeyProcessedID); err == nil && ok {
		e.processedID = string(data)
	}

	data, ok, err := e.ch.Get(ctx, channel.KeyConfig)
	if err != nil || !ok {
		return
	}
	snap, err := channel.DecodeSession(data)
	if err != nil {
		e.logger.Warn().Err(err).Str("event", "ondemand.restore_failed").Msg("dropping unreadable session snapshot")
		_ = e.ch.Delete(ctx, channel.KeyConfig)
		return
	}

	now := e.clock.Now()
	if snap.ExpiresAt > 0 && toEpoch(now) >= snap.ExpiresAt {
		_ = e.ch.Delete(ctx, channel.KeyConfig)
		return
	}

	desc, err := e.resolveTarget(&snap.Request)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("event", "ondemand.restore_failed").
			Str(log.FieldPlugin, snap.Request.PluginID).
			Msg("snapshot names a target that no longer exists")
		_ = e.ch.Delete(ctx, channel.KeyConfig)
		return
	}

	s := &session{
		requestID:   snap.Request.RequestID,
		desc:        desc,
		modes:       sessionModes(desc, snap.Request.Mode),
		pinned:      snap.Request.Pinned || snap.ExpiresAt == 0,
		startedAt:   fromEpoch(snap.StartedAt),
		resumeIndex: snap.ResumeIdx,
	}
	if snap.ExpiresAt > 0 {
		s.expiresAt = fromEpoch(snap.ExpiresAt)
	}
	if !e.reg.Enabled(desc.ID) {
		if err := e.reg.SetEnabled(ctx, desc.ID, true); err == nil {
			s.tempEnabled = true
		}
	}

	e.session = s
	e.status = statusActive
	e.lastEvent = eventStarted
	e.forceChange = true
	e.logger.Info().
		Str("event", "ondemand.restored").
		Str(log.FieldRequestID, s.requestID).
		Str(log.FieldPlugin, desc.ID).
		Msg("resumed on-demand session from snapshot")
	e.publishState(ctx)
}

// publishState writes the on-demand state record. last_updated never goes
// backwards, even when the wall clock does.
func (e *Engine) publishState(ctx context.Context) {
	now := toEpoch(e.clock.Now())
	if now <= e.lastPublished {
		now = e.lastPublished
	}
	e.lastPublished = now

	st := &channel.State{
		Status:      e.status,
		Modes:       []string{},
		LastUpdated: now,
	}
	if e.lastEvent != "" {
		st.LastEvent = channel.StrPtr(e.lastEvent)
	}
	if e.lastError != "" {
		st.LastError = channel.StrPtr(e.lastError)
	}

	if s := e.session; s != nil {
		st.Active = true
		st.PluginID = channel.StrPtr(s.desc.ID)
		st.Mode = channel.StrPtr(s.current().name())
		st.Modes = append(st.Modes, s.modes...)
		st.ModeIndex = s.modeIndex
		st.RequestedAt = channel.F64Ptr(toEpoch(s.startedAt))
		st.Pinned = s.pinned
		if !s.expiresAt.IsZero() {
			st.ExpiresAt = channel.F64Ptr(toEpoch(s.expiresAt))
			st.Remaining = channel.F64Ptr(s.remaining(e.clock.Now()).Seconds())
		}
	}

	data, err := channel.EncodeState(st)
	if err != nil {
		e.logger.Error().Err(err).Str("event", "engine.state_encode_failed").Msg("state not published")
		return
	}
	if err := e.ch.Set(ctx, channel.KeyState, data); err != nil {
		// The engine keeps running; external state goes stale until the
		// next successful write.
		e.warnChannel(err)
	}
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(v float64) time.Time {
	return time.Unix(0, int64(v*float64(time.Second)))
}
