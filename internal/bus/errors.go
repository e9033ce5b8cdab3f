package bus

import "errors"

var (
	// ErrMalformedTopic indicates a topic that does not match the Homie
	// segment pattern. Such messages are dropped, never fatal.
	ErrMalformedTopic = errors.New("bus: malformed topic")

	// ErrNotStarted indicates the normaliser has no subscription yet.
	ErrNotStarted = errors.New("bus: not started")
)
