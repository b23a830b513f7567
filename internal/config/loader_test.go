package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 32, cfg.Display.Rows)
	assert.Equal(t, 64, cfg.Display.Cols)
	assert.Equal(t, 30*time.Second, cfg.Display.DefaultDuration.D())
	assert.Equal(t, 180*time.Second, cfg.Display.Dynamic.MaxDuration.D())
	assert.Equal(t, ChannelMemory, cfg.Channel.Backend)
	assert.Equal(t, 5*time.Second, cfg.Executor.DisplayTimeout.D())
	assert.Equal(t, 30*time.Second, cfg.Executor.UpdateTimeout.D())
	assert.Equal(t, 5, cfg.Executor.FailureThreshold)
	assert.Equal(t, time.Hour, cfg.OnDemand.RequestTTL.D())
	assert.Equal(t, "test", cfg.Version)

	// The memory backend gets a snapshot path under the data dir.
	assert.Equal(t, filepath.Join(cfg.DataDir, "channel.json"), cfg.Channel.SnapshotPath)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
log_level: debug
display:
  rows: 64
  cols: 128
  hardware:
    brightness: 40
  default_duration: 20s
  vegas_scroll:
    enabled: true
    target_fps: 60
schedule:
  active:
    enabled: true
    mode: global
    start_time: "07:00"
    end_time: "22:30"
banner:
  path: /run/panel/banner.json
`)

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Display.Rows)
	assert.Equal(t, 128, cfg.Display.Cols)
	assert.Equal(t, 40, cfg.Display.Hardware.Brightness)
	assert.Equal(t, 20*time.Second, cfg.Display.DefaultDuration.D())
	assert.True(t, cfg.Display.Scroll.Enabled)
	assert.Equal(t, 60, cfg.Display.Scroll.TargetFPS)
	assert.True(t, cfg.Schedule.Active.Enabled)
	assert.Equal(t, "22:30", cfg.Schedule.Active.EndTime)
	assert.Equal(t, "/run/panel/banner.json", cfg.Banner.Path)

	// Untouched fields keep their defaults.
	assert.Equal(t, 1, cfg.Display.Scroll.ScrollSpeed)
	assert.Equal(t, ChannelMemory, cfg.Channel.Backend)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
display:
  hardware:
    brightness: 40
`)
	t.Setenv("LEDMATRIX_DISPLAY_BRIGHTNESS", "75")
	t.Setenv("LEDMATRIX_DISPLAY_DEFAULT_DURATION", "45s")

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)

	assert.Equal(t, 75, cfg.Display.Hardware.Brightness)
	assert.Equal(t, 45*time.Second, cfg.Display.DefaultDuration.D())
}

func TestDurationAcceptsStringsAndSeconds(t *testing.T) {
	path := writeConfigFile(t, `
display:
  default_duration: 90
  dynamic_duration:
    max_duration: 4m
`)
	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Display.DefaultDuration.D())
	assert.Equal(t, 4*time.Minute, cfg.Display.Dynamic.MaxDuration.D())

	bad := writeConfigFile(t, "display:\n  default_duration: soonish\n")
	_, err = NewLoader(bad, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `
display:
  brightnes: 40
`)
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadRejectsNonYAMLExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{
			name:   "brightness out of range",
			mutate: func(c *AppConfig) { c.Display.Hardware.Brightness = 150 },
			want:   "brightness",
		},
		{
			name:   "unknown channel backend",
			mutate: func(c *AppConfig) { c.Channel.Backend = "etcd" },
			want:   "unknown backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *AppConfig) {
				c.Channel.Backend = ChannelRedis
				c.Channel.Redis.Addr = ""
			},
			want: "redis.addr",
		},
		{
			name: "debug listen unparseable",
			mutate: func(c *AppConfig) {
				c.Debug.Enabled = true
				c.Debug.Listen = "not-an-addr"
			},
			want: "listen address",
		},
		{
			name:   "zero failure threshold",
			mutate: func(c *AppConfig) { c.Executor.FailureThreshold = 0 },
			want:   "failure_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfigFile(t, "log_level: debug\n")
	loader := NewLoader(path, "test")

	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	// Break the file: reload must fail and keep the old config.
	require.NoError(t, os.WriteFile(path, []byte("display:\n  rows: -1\n"), 0o600))
	err = holder.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "debug", holder.Get().LogLevel)
	assert.Equal(t, 32, holder.Get().Display.Rows)
}

func TestHolderNotifiesListeners(t *testing.T) {
	path := writeConfigFile(t, "log_level: debug\n")
	loader := NewLoader(path, "test")

	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, "warn", got.LogLevel)
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}
}
