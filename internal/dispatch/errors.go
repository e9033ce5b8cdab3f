package dispatch

import "errors"

var (
	// ErrValidation indicates the request failed dictionary validation.
	// Nothing reached the gateway and no invocation was created.
	ErrValidation = errors.New("dispatch: validation failed")

	// ErrBadCommandLine indicates an unparseable textual command.
	ErrBadCommandLine = errors.New("dispatch: bad command line")
)
