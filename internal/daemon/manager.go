// Package daemon owns the process lifecycle: it runs the display engine,
// serves the optional debug endpoint, and drives an ordered, bounded
// shutdown when the process is asked to stop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// shutdownTimeout bounds the whole teardown: engine, debug server and
	// hooks share this window.
	shutdownTimeout = 15 * time.Second

	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// ShutdownHook is a cleanup function run during graceful shutdown. Hooks
// run in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle.
type Manager interface {
	// Start runs the engine and servers and blocks until shutdown.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the engine, servers and hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a cleanup function for shutdown.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	deps Deps

	debugServer  *http.Server
	engineCancel context.CancelFunc
	engineDone   chan error

	// Shutdown hooks (LIFO order)
	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a daemon manager around the given dependencies.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &manager{
		deps:          deps,
		logger:        deps.Logger.With().Str("component", "daemon").Logger(),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start runs the engine loop and, when configured, the debug endpoint. It
// blocks until the context is cancelled or a component fails, then drives
// a bounded shutdown.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true

	// The engine gets its own cancellation so Shutdown can stop it even
	// when the parent context is already dead.
	engineCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.engineCancel = cancel
	m.engineDone = make(chan error, 1)
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "daemon.starting").
		Bool("debug_endpoint", m.deps.Config.Debug.Enabled).
		Msg("starting daemon")

	errChan := make(chan error, 2)

	go func() {
		err := m.deps.Engine.Run(engineCtx)
		m.engineDone <- err
		if engineCtx.Err() == nil {
			if err == nil {
				err = errors.New("engine loop exited")
			}
			errChan <- fmt.Errorf("engine: %w", err)
		}
	}()

	if m.deps.Config.Debug.Enabled {
		m.startDebugServer(errChan)
	}

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Str("event", "daemon.component_failed").Msg("component failed, initiating shutdown")
		// Detached but bounded so shutdown completes even when the parent
		// context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("component failure and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str("event", "daemon.signal").Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *manager) startDebugServer(errChan chan<- error) {
	m.debugServer = &http.Server{
		Addr:              m.deps.Config.Debug.Listen,
		Handler:           newDebugHandler(m.deps),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		m.logger.Info().
			Str("addr", m.debugServer.Addr).
			Str("event", "daemon.debug_listening").
			Msg("debug endpoint listening")

		if err := m.debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "daemon.debug_server_failed").
				Msg("debug server failed")
			errChan <- fmt.Errorf("debug server: %w", err)
		}
	}()
}

// Shutdown stops the engine first so the panel blanks, then the debug
// server, then the registered hooks in LIFO order.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	engineCancel := m.engineCancel
	engineDone := m.engineDone
	m.mu.Unlock()

	m.logger.Info().Str("event", "daemon.stopping").Msg("shutting down daemon")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error

	if engineCancel != nil {
		engineCancel()
		select {
		case err := <-engineDone:
			if err != nil {
				errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
			}
		case <-shutdownCtx.Done():
			errs = append(errs, errors.New("engine did not stop within the shutdown window"))
		}
	}

	if m.debugServer != nil {
		m.logger.Debug().Msg("shutting down debug server")
		if err := m.debugServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("debug server shutdown: %w", err))
		}
	}

	m.logger.Debug().Int("hooks", len(m.shutdownHooks)).Msg("executing shutdown hooks")
	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]

		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function. Hooks run in reverse
// registration order during Shutdown.
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
