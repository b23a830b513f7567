// Package schedule evaluates the panel's active and dim windows against
// wall-clock time. The evaluator is pure: it performs no I/O and keeps no
// state, so the run loop can call it every iteration and log only on
// transitions.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects how a window's times are interpreted.
const (
	ModeGlobal = "global"
	ModePerDay = "per-day"
)

// DayWindow overrides the global window for a single weekday.
type DayWindow struct {
	Enabled   *bool  `yaml:"enabled" json:"enabled"`
	StartTime string `yaml:"start_time" json:"start_time"`
	EndTime   string `yaml:"end_time" json:"end_time"`
}

// Config describes the on/off window of the panel.
type Config struct {
	Enabled   bool                 `yaml:"enabled" json:"enabled"`
	Mode      string               `yaml:"mode" json:"mode"`
	StartTime string               `yaml:"start_time" json:"start_time"`
	EndTime   string               `yaml:"end_time" json:"end_time"`
	Days      map[string]DayWindow `yaml:"days" json:"days"`
}

// DimConfig describes the brightness-reduction window applied while the
// panel is active.
type DimConfig struct {
	Enabled       bool                 `yaml:"enabled" json:"enabled"`
	DimBrightness int                  `yaml:"dim_brightness" json:"dim_brightness"`
	Mode          string               `yaml:"mode" json:"mode"`
	StartTime     string               `yaml:"start_time" json:"start_time"`
	EndTime       string               `yaml:"end_time" json:"end_time"`
	Days          map[string]DayWindow `yaml:"days" json:"days"`
}

// Decision is the evaluator's verdict for one instant.
type Decision struct {
	DisplayActive bool
	Brightness    int
	Dimmed        bool

	// Degraded lists schedule fields that failed to parse. A non-empty list
	// means the corresponding window degraded to "always active"; the caller
	// decides how often to log it.
	Degraded []string
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

// Evaluate computes the panel decision for now given both windows and the
// nominal hardware brightness. A nil-equivalent (zero) Config means "always
// active, nominal brightness".
func Evaluate(now time.Time, active Config, dim DimConfig, nominalBrightness int) Decision {
	d := Decision{DisplayActive: true, Brightness: clampBrightness(nominalBrightness)}

	if active.Enabled {
		on, degraded := windowActive(now, active.Mode, active.StartTime, active.EndTime, active.Days)
		d.DisplayActive = on
		d.Degraded = append(d.Degraded, degraded...)
	}

	if d.DisplayActive && dim.Enabled {
		dimmed, degraded := windowActive(now, dim.Mode, dim.StartTime, dim.EndTime, dim.Days)
		d.Degraded = append(d.Degraded, degraded...)
		if dimmed {
			d.Dimmed = true
			d.Brightness = clampBrightness(dim.DimBrightness)
		}
	}

	return d
}

// windowActive reports whether now falls inside the window. Parse failures
// degrade to active=true and are reported in the second return value.
func windowActive(now time.Time, mode, start, end string, days map[string]DayWindow) (bool, []string) {
	if mode == ModePerDay {
		if day, ok := days[weekdayNames[now.Weekday()]]; ok {
			if day.Enabled != nil && !*day.Enabled {
				return false, nil
			}
			if day.StartTime != "" {
				start = day.StartTime
			}
			if day.EndTime != "" {
				end = day.EndTime
			}
		}
	}

	startMin, err := parseClock(start)
	if err != nil {
		return true, []string{fmt.Sprintf("start_time %q: %v", start, err)}
	}
	endMin, err := parseClock(end)
	if err != nil {
		return true, []string{fmt.Sprintf("end_time %q: %v", end, err)}
	}

	nowMin := now.Hour()*60 + now.Minute()
	switch {
	case startMin == endMin:
		// Degenerate window covers the whole day.
		return true, nil
	case endMin < startMin:
		// Overnight window, e.g. 22:00-06:30.
		return nowMin >= startMin || nowMin <= endMin, nil
	default:
		return nowMin >= startMin && nowMin <= endMin, nil
	}
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time string")
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute")
	}
	return h*60 + m, nil
}

func clampBrightness(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
