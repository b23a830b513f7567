package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/channel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/daemon"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/engine"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/executor"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/health"
	lmlog "github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/plugin"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/telemetry"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe logger defaults until the config is loaded.
	lmlog.Configure(lmlog.Config{
		Level:   "info",
		Service: "ledmatrixd",
		Version: version.Version,
	})
	logger := lmlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise auto-load
	// ${LEDMATRIX_DATA_DIR}/config.yaml when it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("LEDMATRIX_DATA_DIR", "./data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Msg("starting ledmatrixd")

	logger.Info().Msgf("→ Panel: %dx%d, brightness %d", cfg.Display.Rows, cfg.Display.Cols, cfg.Display.Hardware.Brightness)
	logger.Info().Msgf("→ Channel: %s", cfg.Channel.Backend)
	logger.Info().Msgf("→ Plugins dir: %s", orNone(cfg.Plugins.Dir))
	logger.Info().Msgf("→ Banner: %s", orNone(cfg.Banner.Path))
	if cfg.Debug.Enabled {
		logger.Info().Msgf("→ Debug endpoint: %s", cfg.Debug.Listen)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ledmatrixd",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise telemetry")
	}

	ch, err := channel.Open(cfg.Channel)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "channel.open_failed").
			Msg("failed to open request channel")
	}

	drv := openDriver(cfg)

	env := plugin.Env{
		Panel:   drv,
		DataDir: cfg.DataDir,
		Logger:  lmlog.Base(),
	}

	reg := plugin.NewRegistry()
	if cfg.Plugins.Dir != "" {
		if err := plugin.LoadDir(cfg.Plugins.Dir, plugin.Builtins(), env, reg, cfg.Plugins.Disabled); err != nil {
			// Partial failure: broken manifests were skipped, the rest run.
			logger.Error().
				Err(err).
				Str("event", "plugin.discovery_errors").
				Msg("some plugin manifests failed to load")
		}
	}
	if reg.Len() == 0 {
		// A rotation with the clock in it never goes fully dark.
		if _, err := reg.Register(plugin.NewClock(env, "clock")); err != nil {
			logger.Fatal().Err(err).Msg("failed to register built-in clock")
		}
		logger.Info().
			Str("event", "plugin.fallback_clock").
			Msg("no plugins discovered, registered built-in clock")
	}
	logger.Info().Msgf("→ Plugins: %s", strings.Join(reg.IDs(), ", "))

	// Hot reload: the engine drains holder notifications between slices.
	holder := config.NewHolder(cfg, loader, effectiveConfigPath)
	updates := make(chan config.AppConfig, 1)
	holder.RegisterListener(updates)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.watcher_failed").
			Msg("config hot reload disabled")
	}

	exec := executor.New(cfg.Executor)
	eng := engine.New(cfg, reg, exec, ch, drv,
		engine.WithConfigUpdates(updates))

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewChannelChecker(ch))
	hm.RegisterChecker(health.NewRegistryChecker(reg.Len))
	hm.RegisterChecker(health.NewLoopChecker(eng.LastIteration))
	hm.RegisterChecker(health.NewBannerPathChecker(cfg.Banner.Path))

	mgr, err := daemon.NewManager(daemon.Deps{
		Logger:   lmlog.Base(),
		Config:   cfg,
		Engine:   eng,
		Channel:  ch,
		Executor: exec,
		Health:   hm,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.create_failed").
			Msg("failed to create daemon manager")
	}

	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("config-watcher", func(context.Context) error {
		holder.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("request-channel", func(context.Context) error {
		return ch.Close()
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("ledmatrixd exiting")
}

// openDriver selects the panel driver. Hardware output goes through an
// external renderer fed by the panel abstraction; without one the null
// driver keeps the full engine running headless.
func openDriver(cfg config.AppConfig) panel.Driver {
	return panel.NewNull(cfg.Display.Rows, cfg.Display.Cols)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
