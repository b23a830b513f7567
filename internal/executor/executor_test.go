package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/telemetry"
)

// mockClock is a manually advanced clock.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scripted is a plugin whose display behavior is driven by fields.
type scripted struct {
	id      string
	err     error
	status  plugin.Status
	block   bool
	panicky bool
	updates int
	upErr   error
}

func (s *scripted) ID() string { return s.id }

func (s *scripted) Display(ctx context.Context, mode string, forceClear bool) (plugin.Result, error) {
	if err := ctx.Err(); err != nil {
		return plugin.Result{}, err
	}
	if s.panicky {
		panic("wild pointer")
	}
	if s.block {
		<-ctx.Done()
		return plugin.Result{}, ctx.Err()
	}
	if s.err != nil {
		return plugin.Result{}, s.err
	}
	return plugin.Result{Status: s.status}, nil
}

func (s *scripted) Update(ctx context.Context) error {
	s.updates++
	return s.upErr
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		DisplayTimeout:   config.Duration(time.Second),
		UpdateTimeout:    config.Duration(time.Second),
		FailureThreshold: 5,
		CircuitBaseDelay: config.Duration(30 * time.Second),
		CircuitMaxDelay:  config.Duration(30 * time.Minute),
	}
}

func TestDisplayOutcomes(t *testing.T) {
	e := New(testConfig(), WithClock(newMockClock()))
	ctx := context.Background()

	ok := plugin.Describe(&scripted{id: "ok", status: plugin.StatusRendered})
	res := e.Display(ctx, ok, "", false)
	assert.Equal(t, OutcomeRendered, res.Outcome)
	assert.NoError(t, res.Err)

	empty := plugin.Describe(&scripted{id: "empty", status: plugin.StatusNoContent})
	res = e.Display(ctx, empty, "", false)
	assert.Equal(t, OutcomeNoContent, res.Outcome)

	broken := plugin.Describe(&scripted{id: "broken", err: errors.New("api down")})
	res = e.Display(ctx, broken, "", false)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.EqualError(t, res.Err, "api down")
}

func TestDisplayTimeoutAbandonsCall(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayTimeout = config.Duration(50 * time.Millisecond)
	e := New(cfg, WithClock(newMockClock()))

	d := plugin.Describe(&scripted{id: "hang", block: true})
	res := e.Display(context.Background(), d, "", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTimeout)
}

func TestDisplayPanicIsCaptured(t *testing.T) {
	e := New(testConfig(), WithClock(newMockClock()))

	d := plugin.Describe(&scripted{id: "boom", panicky: true})
	res := e.Display(context.Background(), d, "", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Contains(t, pe.Error(), "wild pointer")
}

func TestDisplayShutdownIsSkippedNotFailed(t *testing.T) {
	e := New(testConfig(), WithClock(newMockClock()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := plugin.Describe(&scripted{id: "ok", status: plugin.StatusRendered})
	res := e.Display(ctx, d, "", false)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	clk := newMockClock()
	e := New(testConfig(), WithClock(clk))
	ctx := context.Background()

	d := plugin.Describe(&scripted{id: "flaky", err: errors.New("bad feed")})

	for i := 0; i < 5; i++ {
		assert.True(t, e.Allowed("flaky"), "call %d should be allowed", i)
		res := e.Display(ctx, d, "", false)
		assert.Equal(t, OutcomeFailed, res.Outcome)
	}

	// Threshold reached: skipped without calling the plugin.
	assert.False(t, e.Allowed("flaky"))
	res := e.Display(ctx, d, "", false)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCircuitOpen)

	sums := e.Summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, StateOpen, sums[0].State)
	assert.Equal(t, clk.Now().Add(30*time.Second), sums[0].RetryAt)
}

func TestCircuitBackoffDoublesAndSuccessResets(t *testing.T) {
	clk := newMockClock()
	e := New(testConfig(), WithClock(clk))
	ctx := context.Background()

	failing := plugin.Describe(&scripted{id: "flaky", err: errors.New("bad feed")})
	for i := 0; i < 5; i++ {
		e.Display(ctx, failing, "", false)
	}
	require.False(t, e.Allowed("flaky"))

	// First window is 30s.
	clk.Advance(29 * time.Second)
	assert.False(t, e.Allowed("flaky"))
	clk.Advance(time.Second)
	assert.True(t, e.Allowed("flaky"), "probe allowed once the window elapses")

	// Failed probe doubles the window to 60s.
	e.Display(ctx, failing, "", false)
	assert.False(t, e.Allowed("flaky"))
	clk.Advance(59 * time.Second)
	assert.False(t, e.Allowed("flaky"))
	clk.Advance(time.Second)
	assert.True(t, e.Allowed("flaky"))

	// Successful probe closes the circuit and resets the backoff.
	healthy := plugin.Describe(&scripted{id: "flaky", status: plugin.StatusRendered})
	res := e.Display(ctx, healthy, "", false)
	assert.Equal(t, OutcomeRendered, res.Outcome)
	assert.True(t, e.Allowed("flaky"))

	sums := e.Summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, StateClosed, sums[0].State)
	assert.Equal(t, 0, sums[0].Failures)
}

func TestCircuitBackoffIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.CircuitMaxDelay = config.Duration(60 * time.Second)
	clk := newMockClock()
	e := New(cfg, WithClock(clk))
	ctx := context.Background()

	d := plugin.Describe(&scripted{id: "flaky", err: errors.New("x")})

	// Trip, then fail enough probes to pass the cap: 30s, 60s, 60s ...
	e.Display(ctx, d, "", false)
	for i := 0; i < 4; i++ {
		clk.Advance(61 * time.Second)
		require.True(t, e.Allowed("flaky"))
		e.Display(ctx, d, "", false)
	}

	clk.Advance(59 * time.Second)
	assert.False(t, e.Allowed("flaky"))
	clk.Advance(time.Second)
	assert.True(t, e.Allowed("flaky"), "window never exceeds the cap")
}

func TestNoContentCountsAsCircuitSuccess(t *testing.T) {
	e := New(testConfig(), WithClock(newMockClock()))
	ctx := context.Background()

	failing := plugin.Describe(&scripted{id: "p", err: errors.New("x")})
	for i := 0; i < 4; i++ {
		e.Display(ctx, failing, "", false)
	}

	quiet := plugin.Describe(&scripted{id: "p", status: plugin.StatusNoContent})
	e.Display(ctx, quiet, "", false)

	// The failure streak was broken; four more failures must not trip it.
	for i := 0; i < 4; i++ {
		e.Display(ctx, failing, "", false)
	}
	assert.True(t, e.Allowed("p"))
}

func TestUpdateFailureDoesNotTouchDisplayCircuit(t *testing.T) {
	e := New(testConfig(), WithClock(newMockClock()))
	ctx := context.Background()

	s := &scripted{id: "p", upErr: errors.New("feed 500"), status: plugin.StatusRendered}
	d := plugin.Describe(s)

	for i := 0; i < 10; i++ {
		require.Error(t, e.Update(ctx, d))
	}
	assert.True(t, e.Allowed("p"))
	assert.Equal(t, 10, s.updates)

	res := e.Display(ctx, d, "", false)
	assert.Equal(t, OutcomeRendered, res.Outcome)
}

func TestSummaryCarriesCountersAndLastError(t *testing.T) {
	clk := newMockClock()
	e := New(testConfig(), WithClock(clk))
	ctx := context.Background()

	healthy := plugin.Describe(&scripted{id: "p", status: plugin.StatusRendered})
	res := e.Display(ctx, healthy, "", false)
	require.Equal(t, OutcomeRendered, res.Outcome)
	successAt := clk.Now()

	clk.Advance(time.Second)
	broken := plugin.Describe(&scripted{id: "p", err: errors.New("api down")})
	res = e.Display(ctx, broken, "", false)
	require.Equal(t, OutcomeFailed, res.Outcome)

	sums := e.Summaries()
	require.Len(t, sums, 1)
	s := sums[0]
	assert.Equal(t, StateClosed, s.State)
	assert.Equal(t, 1, s.Successes)
	assert.Equal(t, 1, s.FailuresTotal)
	assert.Equal(t, 1, s.Failures, "one consecutive failure so far")
	assert.Equal(t, "api down", s.LastError)
	assert.Equal(t, successAt, s.LastSuccessAt)
	assert.Equal(t, clk.Now(), s.LastFailureAt)
}

func TestSummaryTotalsSurviveRecovery(t *testing.T) {
	clk := newMockClock()
	e := New(testConfig(), WithClock(clk))
	ctx := context.Background()

	broken := plugin.Describe(&scripted{id: "p", err: errors.New("bad feed")})
	for i := 0; i < 3; i++ {
		e.Display(ctx, broken, "", false)
	}
	healthy := plugin.Describe(&scripted{id: "p", status: plugin.StatusRendered})
	e.Display(ctx, healthy, "", false)

	sums := e.Summaries()
	require.Len(t, sums, 1)
	s := sums[0]
	assert.Equal(t, 0, s.Failures, "streak resets on success")
	assert.Equal(t, 3, s.FailuresTotal, "totals do not")
	assert.Equal(t, 1, s.Successes)
	assert.Equal(t, "bad feed", s.LastError, "last error stays visible after recovery")
}

func TestDisplayEmitsSpanPerCall(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	e := New(testConfig(), WithClock(newMockClock()))

	ok := plugin.Describe(&scripted{id: "ok", status: plugin.StatusRendered})
	e.Display(context.Background(), ok, "", false)

	broken := plugin.Describe(&scripted{id: "broken", err: errors.New("api down")})
	e.Display(context.Background(), broken, "", false)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "plugin.display", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String(telemetry.PluginKey, "ok"))
	assert.Contains(t, spans[0].Attributes(), attribute.String(telemetry.OutcomeKey, "rendered"))
	assert.Contains(t, spans[1].Attributes(), attribute.String(telemetry.OutcomeKey, "error"))
	assert.Contains(t, spans[1].Attributes(), attribute.Bool(telemetry.ErrorKey, true))
}

func TestUpdateWithoutCapabilityIsNoop(t *testing.T) {
	e := New(testConfig(), WithClock(newMockClock()))

	type displayOnly struct{ plugin.Plugin }
	d := plugin.Describe(displayOnly{&scripted{id: "p"}})
	assert.False(t, d.CanUpdate)
	assert.NoError(t, e.Update(context.Background(), d))
}
