package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
)

// PerformStartupChecks validates the environment before the engine starts:
// a misconfigured daemon should fail at boot, not mid-rotation.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkDisplay(cfg.Display); err != nil {
		return fmt.Errorf("display configuration invalid: %w", err)
	}
	if err := checkChannel(logger, cfg.Channel); err != nil {
		return fmt.Errorf("channel configuration invalid: %w", err)
	}
	if err := checkDebug(cfg.Debug); err != nil {
		return fmt.Errorf("debug endpoint configuration invalid: %w", err)
	}

	logger.Info().Str("event", "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", path, err)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data directory not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)

	logger.Debug().Str(log.FieldPath, path).Msg("data directory is writable")
	return nil
}

func checkDisplay(cfg config.DisplayConfig) error {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return fmt.Errorf("panel geometry %dx%d is not positive", cfg.Rows, cfg.Cols)
	}
	if cfg.Hardware.Brightness < 0 || cfg.Hardware.Brightness > 100 {
		return fmt.Errorf("brightness %d out of range 0-100", cfg.Hardware.Brightness)
	}
	if cfg.Scroll.Enabled && cfg.Scroll.TargetFPS <= 0 {
		return fmt.Errorf("scroll target fps %d is not positive", cfg.Scroll.TargetFPS)
	}
	return nil
}

func checkChannel(logger zerolog.Logger, cfg config.ChannelConfig) error {
	switch cfg.Backend {
	case "", config.ChannelMemory:
		if cfg.SnapshotPath != "" {
			dir := filepath.Dir(cfg.SnapshotPath)
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("snapshot directory %s: %w", dir, err)
			}
		}
	case config.ChannelBadger:
		if cfg.BadgerDir == "" {
			return fmt.Errorf("badger backend needs badger_dir")
		}
		if err := os.MkdirAll(cfg.BadgerDir, 0o750); err != nil {
			return fmt.Errorf("badger directory %s: %w", cfg.BadgerDir, err)
		}
	case config.ChannelRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis backend needs an address")
		}
		if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
			return fmt.Errorf("invalid redis address %q: %w", cfg.Redis.Addr, err)
		}
	default:
		return fmt.Errorf("unknown channel backend %q", cfg.Backend)
	}
	logger.Debug().Str("backend", cfg.Backend).Msg("channel configuration valid")
	return nil
}

func checkDebug(cfg config.DebugConfig) error {
	if !cfg.Enabled {
		return nil
	}
	_, port, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, cfg.Listen)
	}
	return nil
}
