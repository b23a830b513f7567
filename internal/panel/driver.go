// Package panel is the boundary between the engine and the LED matrix
// hardware. Everything above this package works in terms of Frame and
// Driver; the concrete matrix binding (or a headless stand-in) plugs in
// underneath.
package panel

import "fmt"

// Color is one RGB pixel.
type Color struct {
	R, G, B uint8
}

// Common colors.
var (
	Black = Color{}
	White = Color{R: 255, G: 255, B: 255}
	Amber = Color{R: 255, G: 140, B: 0}
	Red   = Color{R: 220, G: 40, B: 40}
	Green = Color{R: 40, G: 200, B: 80}
	Blue  = Color{R: 60, G: 120, B: 255}
)

// Frame is a row-major pixel buffer matching the panel geometry.
type Frame struct {
	Rows, Cols int
	Pix        []Color
}

// NewFrame allocates a black frame of the given geometry.
func NewFrame(rows, cols int) *Frame {
	return &Frame{Rows: rows, Cols: cols, Pix: make([]Color, rows*cols)}
}

// Set writes one pixel; out-of-bounds writes are dropped so drawing code
// can run off the edge while scrolling.
func (f *Frame) Set(x, y int, c Color) {
	if x < 0 || x >= f.Cols || y < 0 || y >= f.Rows {
		return
	}
	f.Pix[y*f.Cols+x] = c
}

// At reads one pixel; out-of-bounds reads return black.
func (f *Frame) At(x, y int) Color {
	if x < 0 || x >= f.Cols || y < 0 || y >= f.Rows {
		return Black
	}
	return f.Pix[y*f.Cols+x]
}

// Fill paints the whole frame with one color.
func (f *Frame) Fill(c Color) {
	for i := range f.Pix {
		f.Pix[i] = c
	}
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	cp := NewFrame(f.Rows, f.Cols)
	copy(cp.Pix, f.Pix)
	return cp
}

// Driver renders frames onto a matrix. Implementations must be safe for
// use from a single goroutine; the engine serializes all access.
type Driver interface {
	// Size returns the panel geometry in pixels.
	Size() (rows, cols int)

	// SetBrightness applies a brightness percentage (0-100).
	SetBrightness(percent int) error

	// Render displays a frame. The frame geometry must match Size.
	Render(f *Frame) error

	// Clear blanks the panel immediately.
	Clear() error

	// Close releases the hardware.
	Close() error
}

// Null is a headless driver that accepts everything and displays nothing.
// Used when the daemon runs without hardware attached.
type Null struct {
	rows, cols int
}

// NewNull creates a headless driver with the given geometry.
func NewNull(rows, cols int) *Null {
	return &Null{rows: rows, cols: cols}
}

func (n *Null) Size() (int, int) { return n.rows, n.cols }

func (n *Null) SetBrightness(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("brightness out of range: %d", percent)
	}
	return nil
}

func (n *Null) Render(f *Frame) error {
	if f.Rows != n.rows || f.Cols != n.cols {
		return fmt.Errorf("frame geometry %dx%d does not match panel %dx%d", f.Rows, f.Cols, n.rows, n.cols)
	}
	return nil
}

func (n *Null) Clear() error { return nil }
func (n *Null) Close() error { return nil }
