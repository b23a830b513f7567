// Package executor runs plugin calls under supervision: per-operation
// deadlines, panic capture, and a per-plugin failure circuit that takes
// misbehaving plugins out of rotation with exponential backoff.
package executor

import (
	"sync"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
)

// State of a plugin's failure circuit.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// clock abstracts time for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// health is the failure circuit for one plugin. Consecutive display
// failures open it; while open the plugin is skipped in rotation. The open
// window doubles on every failed probe and a single success closes the
// circuit and resets the backoff.
type health struct {
	mu        sync.Mutex
	name      string
	threshold int
	baseDelay time.Duration
	maxDelay  time.Duration
	clock     clock

	state     State
	failures  int
	openedAt  time.Time
	openDelay time.Duration
	nextDelay time.Duration

	successes     int
	failuresTotal int
	lastError     string
	lastSuccessAt time.Time
	lastFailureAt time.Time
}

func newHealth(name string, threshold int, baseDelay, maxDelay time.Duration, c clock) *health {
	if threshold <= 0 {
		threshold = 5
	}
	if baseDelay <= 0 {
		baseDelay = 30 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	h := &health{
		name:      name,
		threshold: threshold,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		clock:     c,
		state:     StateClosed,
		nextDelay: baseDelay,
	}
	metrics.SetCircuitState(name, string(StateClosed))
	return h
}

// allow reports whether the plugin may be called. An open circuit allows
// one probe once its window has elapsed; the probe's result then decides
// whether it closes or reopens with a doubled window.
func (h *health) allow() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return true
	}
	return h.clock.Now().Sub(h.openedAt) >= h.openDelay
}

func (h *health) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures = 0
	h.successes++
	h.lastSuccessAt = h.clock.Now()
	h.nextDelay = h.baseDelay
	if h.state != StateClosed {
		h.state = StateClosed
		metrics.SetCircuitState(h.name, string(StateClosed))
	}
}

func (h *health) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	h.failuresTotal++
	h.lastFailureAt = h.clock.Now()
	if err != nil {
		h.lastError = err.Error()
	}

	if h.state == StateOpen {
		// Failed probe: reopen with a doubled window.
		h.reopen()
		return
	}
	if h.failures >= h.threshold {
		h.state = StateOpen
		h.reopen()
		metrics.SetCircuitState(h.name, string(StateOpen))
	}
}

// reopen arms the open window. Caller holds the lock.
func (h *health) reopen() {
	h.openedAt = h.clock.Now()
	h.openDelay = h.nextDelay
	h.nextDelay *= 2
	if h.nextDelay > h.maxDelay {
		h.nextDelay = h.maxDelay
	}
	metrics.RecordCircuitTrip(h.name)
}

// Summary is a point-in-time view of one plugin's circuit for health
// reporting.
type Summary struct {
	Plugin        string    `json:"plugin"`
	State         State     `json:"state"`
	Failures      int       `json:"consecutive_failures"`
	Successes     int       `json:"successes"`
	FailuresTotal int       `json:"failures"`
	LastError     string    `json:"last_error,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	RetryAt       time.Time `json:"retry_at,omitzero"`
}

func (h *health) summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Summary{
		Plugin:        h.name,
		State:         h.state,
		Failures:      h.failures,
		Successes:     h.successes,
		FailuresTotal: h.failuresTotal,
		LastError:     h.lastError,
		LastSuccessAt: h.lastSuccessAt,
		LastFailureAt: h.lastFailureAt,
	}
	if h.state == StateOpen {
		s.RetryAt = h.openedAt.Add(h.openDelay)
	}
	return s
}
