package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
)

// Holder holds the configuration with atomic reloading. The run loop reads
// it once per iteration; reloads swap the whole config or nothing.
type Holder struct {
	mu         sync.RWMutex
	current    AppConfig
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewHolder creates a holder seeded with the initial configuration.
func NewHolder(initial AppConfig, loader *Loader, configPath string) *Holder {
	return &Holder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates a fresh configuration. On failure the old
// configuration stays in place and an error is returned, so a half-edited
// file never reaches the engine.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file and reloads on change. A no-op when
// the daemon runs ENV-only.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str(log.FieldPath, h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Editors fire several events per save; debounce so one save means one
	// reload.
	var debounceTimer *time.Timer
	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher if running.
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel that receives each successfully
// reloaded config. Sends are non-blocking; a full channel is skipped.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the panel-relevant differences between configs.
func (h *Holder) logChanges(old, newCfg AppConfig) {
	if old.Display.Hardware.Brightness != newCfg.Display.Hardware.Brightness {
		h.logger.Info().
			Int("old", old.Display.Hardware.Brightness).
			Int("new", newCfg.Display.Hardware.Brightness).
			Msg("config changed: display brightness")
	}
	if old.Display.DefaultDuration != newCfg.Display.DefaultDuration {
		h.logger.Info().
			Dur("old", old.Display.DefaultDuration.D()).
			Dur("new", newCfg.Display.DefaultDuration.D()).
			Msg("config changed: default slice duration")
	}
	if old.Display.Dynamic.MaxDuration != newCfg.Display.Dynamic.MaxDuration {
		h.logger.Info().
			Dur("old", old.Display.Dynamic.MaxDuration.D()).
			Dur("new", newCfg.Display.Dynamic.MaxDuration.D()).
			Msg("config changed: dynamic duration cap")
	}
	if old.Schedule.Active.Enabled != newCfg.Schedule.Active.Enabled {
		h.logger.Info().
			Bool("old", old.Schedule.Active.Enabled).
			Bool("new", newCfg.Schedule.Active.Enabled).
			Msg("config changed: schedule enabled")
	}
	if old.Display.Scroll.Enabled != newCfg.Display.Scroll.Enabled {
		h.logger.Info().
			Bool("old", old.Display.Scroll.Enabled).
			Bool("new", newCfg.Display.Scroll.Enabled).
			Msg("config changed: vegas scroll")
	}
	if old.Channel.Backend != newCfg.Channel.Backend {
		h.logger.Warn().
			Str("old", old.Channel.Backend).
			Str("new", newCfg.Channel.Backend).
			Msg("config changed: channel backend (takes effect on restart)")
	}
}
