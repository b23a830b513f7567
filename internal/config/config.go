// Package config loads and validates the daemon configuration with the
// precedence ENV > file > defaults, and supports hot reloading of the file
// layer while the daemon runs.
package config

import (
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/schedule"
)

// AppConfig is the complete runtime configuration of the daemon.
type AppConfig struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Version  string `yaml:"-"`

	Plugins   PluginsConfig   `yaml:"plugins"`
	Display   DisplayConfig   `yaml:"display"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Channel   ChannelConfig   `yaml:"channel"`
	Banner    BannerConfig    `yaml:"banner"`
	OnDemand  OnDemandConfig  `yaml:"on_demand"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Debug     DebugConfig     `yaml:"debug"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	// Dir holds one manifest file per plugin instance. Empty disables
	// discovery; only built-ins registered in code remain.
	Dir string `yaml:"dir"`

	// Disabled lists plugin IDs that start disabled regardless of their
	// manifest.
	Disabled []string `yaml:"disabled"`
}

// DisplayConfig describes the panel geometry and rotation timing.
type DisplayConfig struct {
	Rows     int            `yaml:"rows"`
	Cols     int            `yaml:"cols"`
	Hardware HardwareConfig `yaml:"hardware"`

	// DefaultDuration is the per-plugin slice length when the plugin gives
	// no hint of its own.
	DefaultDuration Duration      `yaml:"default_duration"`
	Dynamic         DynamicConfig `yaml:"dynamic_duration"`
	Scroll          ScrollConfig  `yaml:"vegas_scroll"`
}

// HardwareConfig carries the matrix driver knobs.
type HardwareConfig struct {
	Brightness int `yaml:"brightness"`
}

// DynamicConfig bounds content-driven slice extension.
type DynamicConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxDuration Duration `yaml:"max_duration"`
}

// ScrollConfig configures the continuous scrolling compositor.
type ScrollConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ScrollSpeed     int      `yaml:"scroll_speed"`
	TargetFPS       int      `yaml:"target_fps"`
	BufferAhead     int      `yaml:"buffer_ahead"`
	GapPx           int      `yaml:"gap_px"`
	PluginOrder     []string `yaml:"plugin_order"`
	ExcludedPlugins []string `yaml:"excluded_plugins"`
}

// ScheduleConfig groups the panel's active window and its dim window. The
// window semantics live in internal/schedule; this package only carries the
// file shape and converts it.
type ScheduleConfig struct {
	Active schedule.Config    `yaml:"active"`
	Dim    schedule.DimConfig `yaml:"dim"`
}

// Channel backends.
const (
	ChannelMemory = "memory"
	ChannelBadger = "badger"
	ChannelRedis  = "redis"
)

// ChannelConfig selects and configures the request-channel backend.
type ChannelConfig struct {
	Backend string `yaml:"backend"`

	// SnapshotPath is where the memory backend persists its state across
	// restarts. Empty disables snapshots.
	SnapshotPath string `yaml:"snapshot_path"`

	BadgerDir string      `yaml:"badger_dir"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BannerConfig configures the file-based connectivity banner.
type BannerConfig struct {
	Path string `yaml:"path"`
}

// OnDemandConfig tunes the on-demand request lifecycle.
type OnDemandConfig struct {
	RequestTTL Duration `yaml:"request_ttl"`
}

// ExecutorConfig bounds plugin calls and the failure circuit.
type ExecutorConfig struct {
	DisplayTimeout   Duration `yaml:"display_timeout"`
	UpdateTimeout    Duration `yaml:"update_timeout"`
	FailureThreshold int      `yaml:"failure_threshold"`
	CircuitBaseDelay Duration `yaml:"circuit_base_delay"`
	CircuitMaxDelay  Duration `yaml:"circuit_max_delay"`
}

// DebugConfig configures the local observability endpoint.
type DebugConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Listen       string `yaml:"listen"`
	RateLimitRPS int    `yaml:"rate_limit_rps"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Protocol    string  `yaml:"protocol"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

// Defaults returns the built-in configuration used when neither the file nor
// the environment overrides a value.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  "./data",
		Display: DisplayConfig{
			Rows: 32,
			Cols: 64,
			Hardware: HardwareConfig{
				Brightness: 90,
			},
			DefaultDuration: Duration(30 * time.Second),
			Dynamic: DynamicConfig{
				Enabled:     true,
				MaxDuration: Duration(180 * time.Second),
			},
			Scroll: ScrollConfig{
				ScrollSpeed: 1,
				TargetFPS:   120,
				BufferAhead: 2,
				GapPx:       8,
			},
		},
		Channel: ChannelConfig{
			Backend: ChannelMemory,
		},
		Banner: BannerConfig{
			Path: "/tmp/display_banner.json",
		},
		OnDemand: OnDemandConfig{
			RequestTTL: Duration(time.Hour),
		},
		Executor: ExecutorConfig{
			DisplayTimeout:   Duration(5 * time.Second),
			UpdateTimeout:    Duration(30 * time.Second),
			FailureThreshold: 5,
			CircuitBaseDelay: Duration(30 * time.Second),
			CircuitMaxDelay:  Duration(30 * time.Minute),
		},
		Debug: DebugConfig{
			Listen:       "127.0.0.1:9090",
			RateLimitRPS: 5,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			SampleRatio: 0.1,
			Environment: "production",
		},
	}
}
