package engine

import (
	"context"
	"time"
)

// Clock abstracts time for the run loop so tests can drive whole slices
// without waiting them out.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done; it reports false when the
	// context ended the sleep early.
	Sleep(ctx context.Context, d time.Duration) bool

	// SleepWake is Sleep that also ends early on a signal from wake, so
	// the idle loop reacts to a directive without waiting out the tick.
	// It reports false only when ctx ended the wait.
	SleepWake(ctx context.Context, d time.Duration, wake <-chan struct{}) bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (realClock) SleepWake(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-t.C:
		return true
	}
}
