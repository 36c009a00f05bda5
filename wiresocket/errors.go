package wiresocket

import "errors"

var (
	// ErrBindExhausted is returned when no free port could be found in
	// the configured range after the maximum number of bind attempts.
	ErrBindExhausted = errors.New("wiresocket: no free port in range")

	// ErrClosed is returned by operations attempted on a socket that has
	// already been closed.
	ErrClosed = errors.New("wiresocket: socket is closed")

	// ErrUnsupportedMessage is returned by Send when given a message that
	// is neither a string nor a []byte.
	ErrUnsupportedMessage = errors.New("wiresocket: message must be string or []byte")
)
