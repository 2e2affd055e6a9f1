package manager

import "errors"

var (
	// ErrServerNotFound is returned when the config source has no launch
	// configuration for an id.
	ErrServerNotFound = errors.New("server not found")
	// ErrJarNotFound is returned when the configured server jar does not exist.
	ErrJarNotFound = errors.New("server jar not found")
	// ErrAlreadyRunning is returned by Start while a process is starting or running.
	ErrAlreadyRunning = errors.New("server is already running")
	// ErrNotRunning is returned when an operation needs a live process.
	ErrNotRunning = errors.New("server is not running")
	// ErrStopping is returned by Start while a graceful stop is in progress.
	ErrStopping = errors.New("server is stopping")
	// ErrExitedDuringStartup is returned by Start when the process died
	// within the startup grace window.
	ErrExitedDuringStartup = errors.New("server process exited during startup")
)
