package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate checks the effective configuration for hard errors. Soft issues
// like non-positive slice durations are not rejected here; the run loop
// sanitizes those at use time so a bad reload can never blank the panel.
func Validate(cfg AppConfig) error {
	var errs []error

	if cfg.Display.Rows <= 0 || cfg.Display.Cols <= 0 {
		errs = append(errs, fmt.Errorf("display: rows and cols must be positive (got %dx%d)", cfg.Display.Rows, cfg.Display.Cols))
	}
	if b := cfg.Display.Hardware.Brightness; b < 0 || b > 100 {
		errs = append(errs, fmt.Errorf("display.hardware: brightness must be 0-100 (got %d)", b))
	}
	if cfg.Display.Scroll.Enabled {
		if cfg.Display.Scroll.TargetFPS <= 0 {
			errs = append(errs, fmt.Errorf("display.vegas_scroll: target_fps must be positive (got %d)", cfg.Display.Scroll.TargetFPS))
		}
		if cfg.Display.Scroll.ScrollSpeed <= 0 {
			errs = append(errs, fmt.Errorf("display.vegas_scroll: scroll_speed must be positive (got %d)", cfg.Display.Scroll.ScrollSpeed))
		}
	}

	switch cfg.Channel.Backend {
	case ChannelMemory:
	case ChannelBadger:
		if cfg.Channel.BadgerDir == "" {
			errs = append(errs, errors.New("channel: badger_dir required for badger backend"))
		}
	case ChannelRedis:
		if cfg.Channel.Redis.Addr == "" {
			errs = append(errs, errors.New("channel: redis.addr required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("channel: unknown backend %q (want memory, badger or redis)", cfg.Channel.Backend))
	}

	if cfg.Debug.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Debug.Listen); err != nil {
			errs = append(errs, fmt.Errorf("debug: invalid listen address %q: %w", cfg.Debug.Listen, err))
		}
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("telemetry: sample_ratio must be in [0,1] (got %v)", cfg.Telemetry.SampleRatio))
		}
		switch cfg.Telemetry.Protocol {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("telemetry: unknown protocol %q (want grpc or http)", cfg.Telemetry.Protocol))
		}
	}

	if cfg.Executor.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("executor: failure_threshold must be positive (got %d)", cfg.Executor.FailureThreshold))
	}

	return errors.Join(errs...)
}
