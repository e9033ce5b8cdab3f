package chiptool

import "errors"

// Domain errors for the chiptool package.
var (
	// ErrDecode is returned when chip-tool output cannot be parsed into
	// a report structure.
	ErrDecode = errors.New("chiptool: decode error")

	// ErrNoReport is returned when output parsed cleanly but carried no
	// attribute report.
	ErrNoReport = errors.New("chiptool: no report in output")

	// ErrCommandFailed is returned when chip-tool exited non-zero.
	ErrCommandFailed = errors.New("chiptool: command failed")

	// ErrClosed is returned when a command is submitted after Close.
	ErrClosed = errors.New("chiptool: gateway closed")
)
