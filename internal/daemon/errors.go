package daemon

import "errors"

var (
	// ErrMissingLogger indicates the Deps logger is disabled or absent.
	ErrMissingLogger = errors.New("missing logger")

	// ErrMissingEngine indicates no display engine was provided.
	ErrMissingEngine = errors.New("missing display engine")

	// ErrMissingChannel indicates no request channel was provided.
	ErrMissingChannel = errors.New("missing request channel")

	// ErrMissingHealth indicates the debug endpoint is enabled but no
	// health manager was provided to back its probes.
	ErrMissingHealth = errors.New("missing health manager")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrManagerNotStarted indicates Shutdown was called before Start.
	ErrManagerNotStarted = errors.New("manager not started")
)
