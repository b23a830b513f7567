package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/telemetry"
)

// Call operations.
const (
	OpDisplay = "display"
	OpUpdate  = "update"
)

// Outcome classifies a supervised display call.
type Outcome string

const (
	// OutcomeRendered: content is on the panel.
	OutcomeRendered Outcome = "rendered"
	// OutcomeNoContent: the plugin had nothing to show.
	OutcomeNoContent Outcome = "no_content"
	// OutcomeFailed: error, timeout or panic.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped: the circuit is open or the engine is shutting down;
	// the plugin was not called.
	OutcomeSkipped Outcome = "skipped"
)

var (
	// ErrTimeout marks a call that exceeded its deadline. The plugin
	// goroutine may still be running; it is abandoned, not killed.
	ErrTimeout = errors.New("plugin call timed out")

	// ErrCircuitOpen marks a call skipped because the plugin's failure
	// circuit is open.
	ErrCircuitOpen = errors.New("plugin circuit is open")
)

// PanicError wraps a recovered panic from a plugin call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("plugin panicked: %v", e.Value)
}

// DisplayResult is the engine's view of one supervised display call.
type DisplayResult struct {
	Outcome  Outcome
	Result   plugin.Result
	Err      error
	Duration time.Duration
}

// Executor supervises plugin calls. Safe for concurrent use; the health
// map is shared with the health endpoint.
type Executor struct {
	displayTimeout time.Duration
	updateTimeout  time.Duration
	threshold      int
	baseDelay      time.Duration
	maxDelay       time.Duration

	clock  clock
	logger zerolog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	tracked map[string]*health
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock injects a clock for tests.
func WithClock(c clock) Option {
	return func(e *Executor) { e.clock = c }
}

// New creates an executor from config.
func New(cfg config.ExecutorConfig, opts ...Option) *Executor {
	e := &Executor{
		displayTimeout: cfg.DisplayTimeout.D(),
		updateTimeout:  cfg.UpdateTimeout.D(),
		threshold:      cfg.FailureThreshold,
		baseDelay:      cfg.CircuitBaseDelay.D(),
		maxDelay:       cfg.CircuitMaxDelay.D(),
		clock:          realClock{},
		logger:         log.WithComponent("executor"),
		tracer:         telemetry.Tracer("executor"),
		tracked:        make(map[string]*health),
	}
	if e.displayTimeout <= 0 {
		e.displayTimeout = 5 * time.Second
	}
	if e.updateTimeout <= 0 {
		e.updateTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) healthFor(id string) *health {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.tracked[id]
	if !ok {
		h = newHealth(id, e.threshold, e.baseDelay, e.maxDelay, e.clock)
		e.tracked[id] = h
	}
	return h
}

// Allowed reports whether the plugin's circuit permits a call right now.
func (e *Executor) Allowed(id string) bool {
	return e.healthFor(id).allow()
}

// Summaries returns the circuit state of every tracked plugin, for the
// health endpoint.
func (e *Executor) Summaries() []Summary {
	e.mu.Lock()
	ids := make([]string, 0, len(e.tracked))
	for id := range e.tracked {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.healthFor(id).summary())
	}
	return out
}

type callResult struct {
	res plugin.Result
	err error
}

// Display runs one supervised display call: circuit check, deadline,
// panic capture, outcome classification. A NoContent result counts as a
// success for the circuit; the plugin responded, it just had nothing to
// say.
func (e *Executor) Display(ctx context.Context, d *plugin.Descriptor, mode string, forceClear bool) DisplayResult {
	h := e.healthFor(d.ID)
	if !h.allow() {
		metrics.RecordPluginCall(d.ID, OpDisplay, string(OutcomeSkipped), 0)
		return DisplayResult{Outcome: OutcomeSkipped, Err: ErrCircuitOpen}
	}

	ctx, span := e.tracer.Start(ctx, "plugin.display",
		trace.WithAttributes(telemetry.CallAttributes(d.ID, OpDisplay)...))
	defer span.End()

	start := e.clock.Now()
	res := e.supervise(ctx, e.displayTimeout, d.ID, OpDisplay, func(callCtx context.Context) callResult {
		r, derr := d.Plugin.Display(callCtx, mode, forceClear)
		return callResult{res: r, err: derr}
	})
	elapsed := e.clock.Now().Sub(start)

	out := DisplayResult{Result: res.res, Err: res.err, Duration: elapsed}
	switch {
	case errors.Is(res.err, context.Canceled) && ctx.Err() != nil:
		// Shutdown, not a plugin fault.
		out.Outcome = OutcomeSkipped
	case res.err != nil:
		out.Outcome = OutcomeFailed
		h.recordFailure(res.err)
	case res.res.Status == plugin.StatusNoContent:
		out.Outcome = OutcomeNoContent
		h.recordSuccess()
	default:
		out.Outcome = OutcomeRendered
		h.recordSuccess()
	}

	span.SetAttributes(attribute.String(telemetry.OutcomeKey, outcomeLabel(out)))
	if out.Outcome == OutcomeFailed {
		span.SetAttributes(telemetry.ErrorAttributes(out.Err)...)
	}

	metrics.RecordPluginCall(d.ID, OpDisplay, outcomeLabel(out), elapsed.Seconds())
	return out
}

// Update runs one supervised background refresh. Update failures are
// logged and counted but do not feed the display circuit; a plugin with a
// broken upstream can still render cached data.
func (e *Executor) Update(ctx context.Context, d *plugin.Descriptor) error {
	if !d.CanUpdate {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "plugin.update",
		trace.WithAttributes(telemetry.CallAttributes(d.ID, OpUpdate)...))
	defer span.End()

	start := e.clock.Now()
	res := e.supervise(ctx, e.updateTimeout, d.ID, OpUpdate, func(callCtx context.Context) callResult {
		return callResult{err: d.Update(callCtx)}
	})
	elapsed := e.clock.Now().Sub(start)
	err := res.err

	outcome := "success"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordPluginCall(d.ID, OpUpdate, outcome, elapsed.Seconds())
	span.SetAttributes(attribute.String(telemetry.OutcomeKey, outcome))
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err)...)
	}

	if err != nil && ctx.Err() == nil {
		e.logger.Warn().
			Err(err).
			Str("event", "plugin.update_failed").
			Str(log.FieldPlugin, d.ID).
			Dur("elapsed", elapsed).
			Msg("background update failed")
	}
	return err
}

// supervise runs fn on its own goroutine with a deadline. On timeout the
// goroutine is abandoned (it holds only its ctx and the result channel)
// and the call is reported as failed.
func (e *Executor) supervise(ctx context.Context, timeout time.Duration, id, op string, fn func(context.Context) callResult) callResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- callResult{err: &PanicError{Value: r}}
			}
		}()
		ch <- fn(callCtx)
	}()

	select {
	case res := <-ch:
		var pe *PanicError
		if errors.As(res.err, &pe) {
			e.logger.Error().
				Str("event", "plugin.panic").
				Str(log.FieldPlugin, id).
				Str("op", op).
				Interface("panic", pe.Value).
				Msg("plugin call panicked")
		}
		return res
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Parent canceled: shutdown path.
			return callResult{err: ctx.Err()}
		}
		e.logger.Warn().
			Str("event", "plugin.call_abandoned").
			Str(log.FieldPlugin, id).
			Str("op", op).
			Dur("timeout", timeout).
			Msg("plugin call exceeded deadline, goroutine abandoned")
		return callResult{err: ErrTimeout}
	}
}

func outcomeLabel(r DisplayResult) string {
	if r.Outcome == OutcomeFailed {
		switch {
		case errors.Is(r.Err, ErrTimeout):
			return "timeout"
		default:
			var pe *PanicError
			if errors.As(r.Err, &pe) {
				return "panic"
			}
			return "error"
		}
	}
	return string(r.Outcome)
}
