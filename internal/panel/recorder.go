package panel

import (
	"fmt"
	"sync"
)

// Recorder is a Driver for tests. It records every operation in order and
// keeps the last rendered frame for inspection.
type Recorder struct {
	mu         sync.Mutex
	rows, cols int
	ops        []string
	last       *Frame
	brightness int
	closed     bool
}

// NewRecorder creates a recording driver with the given geometry.
func NewRecorder(rows, cols int) *Recorder {
	return &Recorder{rows: rows, cols: cols, brightness: -1}
}

func (r *Recorder) Size() (int, int) { return r.rows, r.cols }

func (r *Recorder) SetBrightness(percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, fmt.Sprintf("brightness=%d", percent))
	r.brightness = percent
	return nil
}

func (r *Recorder) Render(f *Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "render")
	r.last = f.Clone()
	return nil
}

func (r *Recorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "clear")
	r.last = nil
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "close")
	r.closed = true
	return nil
}

// Ops returns the recorded operations in order.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

// LastFrame returns a copy of the most recently rendered frame, or nil if
// the panel is blank.
func (r *Recorder) LastFrame() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	return r.last.Clone()
}

// Brightness returns the last applied brightness, or -1 if never set.
func (r *Recorder) Brightness() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.brightness
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// RenderCount returns how many frames were rendered.
func (r *Recorder) RenderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op == "render" {
			n++
		}
	}
	return n
}
