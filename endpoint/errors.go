package endpoint

import "errors"

var (
	// ErrNoServer is returned by RequestClient.Send when no reply server for
	// the client's topic has ever been discovered.
	ErrNoServer = errors.New("endpoint: no reply server connected for this topic")

	// ErrClosed is returned by operations attempted on an endpoint that has
	// already been stopped, and by a ReplyFunc called a second time for the
	// same request.
	ErrClosed = errors.New("endpoint: already closed")
)
