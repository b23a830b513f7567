package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with the precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader for the given config file path. An empty path
// means ENV-only configuration.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load builds the effective configuration: defaults first, then the YAML
// file (strict, unknown keys rejected), then environment overrides, then
// validation. On any error the returned config is not usable.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(&cfg, l.configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Channel.Backend == ChannelMemory && cfg.Channel.SnapshotPath == "" {
		cfg.Channel.SnapshotPath = filepath.Join(cfg.DataDir, "channel.json")
	}
	if cfg.Channel.Backend == ChannelBadger && cfg.Channel.BadgerDir == "" {
		cfg.Channel.BadgerDir = filepath.Join(cfg.DataDir, "channel")
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over the defaults. Unknown fields are
// rejected so typos fail at startup instead of silently using defaults.
func (l *Loader) loadFile(cfg *AppConfig, path string) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies LEDMATRIX_* environment overrides on top of the file
// layer. Environment wins over everything.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString("LEDMATRIX_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = ParseString("LEDMATRIX_DATA_DIR", cfg.DataDir)

	cfg.Plugins.Dir = ParseString("LEDMATRIX_PLUGINS_DIR", cfg.Plugins.Dir)

	cfg.Display.Rows = ParseInt("LEDMATRIX_DISPLAY_ROWS", cfg.Display.Rows)
	cfg.Display.Cols = ParseInt("LEDMATRIX_DISPLAY_COLS", cfg.Display.Cols)
	cfg.Display.Hardware.Brightness = ParseInt("LEDMATRIX_DISPLAY_BRIGHTNESS", cfg.Display.Hardware.Brightness)
	cfg.Display.DefaultDuration = Duration(ParseDuration("LEDMATRIX_DISPLAY_DEFAULT_DURATION", cfg.Display.DefaultDuration.D()))
	cfg.Display.Dynamic.Enabled = ParseBool("LEDMATRIX_DYNAMIC_DURATION_ENABLED", cfg.Display.Dynamic.Enabled)
	cfg.Display.Dynamic.MaxDuration = Duration(ParseDuration("LEDMATRIX_DYNAMIC_MAX_DURATION", cfg.Display.Dynamic.MaxDuration.D()))
	cfg.Display.Scroll.Enabled = ParseBool("LEDMATRIX_VEGAS_SCROLL_ENABLED", cfg.Display.Scroll.Enabled)
	cfg.Display.Scroll.TargetFPS = ParseInt("LEDMATRIX_VEGAS_TARGET_FPS", cfg.Display.Scroll.TargetFPS)

	cfg.Channel.Backend = ParseString("LEDMATRIX_CHANNEL_BACKEND", cfg.Channel.Backend)
	cfg.Channel.SnapshotPath = ParseString("LEDMATRIX_CHANNEL_SNAPSHOT_PATH", cfg.Channel.SnapshotPath)
	cfg.Channel.BadgerDir = ParseString("LEDMATRIX_CHANNEL_BADGER_DIR", cfg.Channel.BadgerDir)
	cfg.Channel.Redis.Addr = ParseString("LEDMATRIX_REDIS_ADDR", cfg.Channel.Redis.Addr)
	cfg.Channel.Redis.Password = ParseString("LEDMATRIX_REDIS_PASSWORD", cfg.Channel.Redis.Password)
	cfg.Channel.Redis.DB = ParseInt("LEDMATRIX_REDIS_DB", cfg.Channel.Redis.DB)

	cfg.Banner.Path = ParseString("LEDMATRIX_BANNER_PATH", cfg.Banner.Path)
	cfg.OnDemand.RequestTTL = Duration(ParseDuration("LEDMATRIX_ONDEMAND_REQUEST_TTL", cfg.OnDemand.RequestTTL.D()))

	cfg.Executor.DisplayTimeout = Duration(ParseDuration("LEDMATRIX_DISPLAY_TIMEOUT", cfg.Executor.DisplayTimeout.D()))
	cfg.Executor.UpdateTimeout = Duration(ParseDuration("LEDMATRIX_UPDATE_TIMEOUT", cfg.Executor.UpdateTimeout.D()))
	cfg.Executor.FailureThreshold = ParseInt("LEDMATRIX_FAILURE_THRESHOLD", cfg.Executor.FailureThreshold)

	cfg.Debug.Enabled = ParseBool("LEDMATRIX_DEBUG_ENABLED", cfg.Debug.Enabled)
	cfg.Debug.Listen = ParseString("LEDMATRIX_DEBUG_LISTEN", cfg.Debug.Listen)
	cfg.Debug.RateLimitRPS = ParseInt("LEDMATRIX_DEBUG_RATE_LIMIT_RPS", cfg.Debug.RateLimitRPS)

	cfg.Telemetry.Enabled = ParseBool("LEDMATRIX_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString("LEDMATRIX_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Protocol = ParseString("LEDMATRIX_OTEL_PROTOCOL", cfg.Telemetry.Protocol)
	cfg.Telemetry.SampleRatio = ParseFloat("LEDMATRIX_OTEL_SAMPLE_RATIO", cfg.Telemetry.SampleRatio)
	cfg.Telemetry.Environment = ParseString("LEDMATRIX_OTEL_ENVIRONMENT", cfg.Telemetry.Environment)
}
