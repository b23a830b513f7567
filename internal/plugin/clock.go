package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
)

// Clock is the built-in clock plugin. It needs no network and no data
// store, which makes it the one plugin that can always render; a rotation
// that contains it never goes fully dark.
type Clock struct {
	id     string
	env    Env
	now    func() time.Time
	color  panel.Color
	format string
}

// Clock modes.
const (
	ClockModeTime = "time"
	ClockModeDate = "date"
)

// NewClock builds a clock instance.
func NewClock(env Env, id string) *Clock {
	if id == "" {
		id = "clock"
	}
	return &Clock{
		id:     id,
		env:    env,
		now:    time.Now,
		color:  panel.White,
		format: "24h",
	}
}

// ClockFactory is the manifest factory for type "clock".
func ClockFactory(env Env, m Manifest) (Plugin, error) {
	return NewClock(env, m.ID), nil
}

func (c *Clock) ID() string { return c.id }

// Modes lists the clock's display modes.
func (c *Clock) Modes() []string { return []string{ClockModeTime, ClockModeDate} }

// Display renders the current time or date centered on the panel.
func (c *Clock) Display(ctx context.Context, mode string, forceClear bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	now := c.now()
	var text string
	switch mode {
	case "", ClockModeTime:
		if c.format == "12h" {
			text = now.Format("3:04")
		} else {
			text = now.Format("15:04")
		}
	case ClockModeDate:
		text = strings.ToUpper(now.Format("Mon 02 Jan"))
	default:
		return Result{}, ErrInvalidMode
	}

	rows, cols := c.env.Panel.Size()
	f := panel.NewFrame(rows, cols)
	x := (cols - panel.StringWidth(text)) / 2
	y := (rows - panel.GlyphHeight) / 2
	panel.DrawString(f, x, y, text, c.color)

	if err := c.env.Panel.Render(f); err != nil {
		return Result{}, fmt.Errorf("render clock: %w", err)
	}
	return Rendered(text), nil
}

// ApplySettings understands "format" (24h or 12h) and "color" (named).
func (c *Clock) ApplySettings(settings map[string]any) error {
	if v, ok := settings["format"]; ok {
		s, ok := v.(string)
		if !ok || (s != "24h" && s != "12h") {
			return fmt.Errorf("clock: invalid format %v (want 24h or 12h)", v)
		}
		c.format = s
	}
	if v, ok := settings["color"]; ok {
		s, _ := v.(string)
		switch strings.ToLower(s) {
		case "white":
			c.color = panel.White
		case "amber":
			c.color = panel.Amber
		case "red":
			c.color = panel.Red
		case "green":
			c.color = panel.Green
		case "blue":
			c.color = panel.Blue
		default:
			return fmt.Errorf("clock: unknown color %q", s)
		}
	}
	return nil
}

// Builtins returns the factory table for plugin types compiled into the
// daemon. External manifests pick these by type.
func Builtins() map[string]Factory {
	return map[string]Factory{
		"clock": ClockFactory,
	}
}
