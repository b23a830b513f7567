package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustTime builds a local timestamp on a fixed week so weekday-based cases
// are deterministic. 2026-03-02 is a Monday.
func mustTime(t *testing.T, day int, clock string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", "2026-03-0"+string(rune('0'+day))+" "+clock, time.Local)
	require.NoError(t, err)
	return ts
}

func TestEvaluateDisabledScheduleAlwaysActive(t *testing.T) {
	now := mustTime(t, 2, "03:00")
	d := Evaluate(now, Config{Enabled: false, StartTime: "07:00", EndTime: "22:00"}, DimConfig{}, 80)
	assert.True(t, d.DisplayActive)
	assert.Equal(t, 80, d.Brightness)
	assert.False(t, d.Dimmed)
	assert.Empty(t, d.Degraded)
}

func TestEvaluateGlobalWindow(t *testing.T) {
	cfg := Config{Enabled: true, Mode: ModeGlobal, StartTime: "07:00", EndTime: "22:00"}

	tests := []struct {
		name   string
		clock  string
		active bool
	}{
		{"before start", "06:59", false},
		{"at start", "07:00", true},
		{"midday", "12:30", true},
		{"at end", "22:00", true},
		{"after end", "22:01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(mustTime(t, 2, tt.clock), cfg, DimConfig{}, 100)
			assert.Equal(t, tt.active, d.DisplayActive)
		})
	}
}

func TestEvaluateOvernightWindow(t *testing.T) {
	cfg := Config{Enabled: true, Mode: ModeGlobal, StartTime: "22:00", EndTime: "06:30"}

	tests := []struct {
		name   string
		clock  string
		active bool
	}{
		{"one minute before end", "06:29", true},
		{"at end", "06:30", true},
		{"just after end", "06:31", false},
		{"afternoon", "15:00", false},
		{"at start", "22:00", true},
		{"past midnight", "00:10", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(mustTime(t, 2, tt.clock), cfg, DimConfig{}, 100)
			assert.Equal(t, tt.active, d.DisplayActive)
		})
	}
}

func TestEvaluatePerDayOverrides(t *testing.T) {
	off := false
	cfg := Config{
		Enabled:   true,
		Mode:      ModePerDay,
		StartTime: "07:00",
		EndTime:   "22:00",
		Days: map[string]DayWindow{
			"monday":  {Enabled: &off},
			"tuesday": {StartTime: "10:00", EndTime: "12:00"},
		},
	}

	// Monday is explicitly disabled: inactive even inside the global window.
	d := Evaluate(mustTime(t, 2, "12:00"), cfg, DimConfig{}, 100)
	assert.False(t, d.DisplayActive)

	// Tuesday uses its own tighter window.
	assert.False(t, Evaluate(mustTime(t, 3, "09:00"), cfg, DimConfig{}, 100).DisplayActive)
	assert.True(t, Evaluate(mustTime(t, 3, "11:00"), cfg, DimConfig{}, 100).DisplayActive)

	// Wednesday has no override and falls back to the global window.
	assert.True(t, Evaluate(mustTime(t, 4, "08:00"), cfg, DimConfig{}, 100).DisplayActive)
}

func TestEvaluateInvalidTimesDegradeToActive(t *testing.T) {
	cfg := Config{Enabled: true, Mode: ModeGlobal, StartTime: "25:99", EndTime: "22:00"}
	d := Evaluate(mustTime(t, 2, "03:00"), cfg, DimConfig{}, 100)
	assert.True(t, d.DisplayActive, "unparseable schedule must not blank the panel")
	require.Len(t, d.Degraded, 1)
	assert.Contains(t, d.Degraded[0], "start_time")
}

func TestEvaluateDimWindow(t *testing.T) {
	dim := DimConfig{Enabled: true, DimBrightness: 20, Mode: ModeGlobal, StartTime: "23:00", EndTime: "07:00"}

	d := Evaluate(mustTime(t, 2, "23:30"), Config{}, dim, 90)
	assert.True(t, d.DisplayActive)
	assert.True(t, d.Dimmed)
	assert.Equal(t, 20, d.Brightness)

	d = Evaluate(mustTime(t, 2, "12:00"), Config{}, dim, 90)
	assert.False(t, d.Dimmed)
	assert.Equal(t, 90, d.Brightness)
}

func TestEvaluateDimIgnoredWhileInactive(t *testing.T) {
	active := Config{Enabled: true, Mode: ModeGlobal, StartTime: "07:00", EndTime: "22:00"}
	dim := DimConfig{Enabled: true, DimBrightness: 10, Mode: ModeGlobal, StartTime: "00:00", EndTime: "23:59"}

	d := Evaluate(mustTime(t, 2, "02:00"), active, dim, 90)
	assert.False(t, d.DisplayActive)
	assert.False(t, d.Dimmed)
}

func TestEvaluateEqualStartEndCoversWholeDay(t *testing.T) {
	cfg := Config{Enabled: true, Mode: ModeGlobal, StartTime: "08:00", EndTime: "08:00"}
	assert.True(t, Evaluate(mustTime(t, 2, "03:00"), cfg, DimConfig{}, 100).DisplayActive)
	assert.True(t, Evaluate(mustTime(t, 2, "20:00"), cfg, DimConfig{}, 100).DisplayActive)
}

func TestEvaluateClampsBrightness(t *testing.T) {
	assert.Equal(t, 100, Evaluate(time.Now(), Config{}, DimConfig{}, 250).Brightness)
	assert.Equal(t, 0, Evaluate(time.Now(), Config{}, DimConfig{}, -5).Brightness)
}
