package poller

import "errors"

var (
	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("poller: already running")

	// ErrNotRunning indicates an operation that needs a running poller.
	ErrNotRunning = errors.New("poller: not running")
)
