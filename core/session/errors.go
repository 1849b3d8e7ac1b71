package session

import "errors"

var (
	// ErrSessionClosed is returned by TrySubscribe after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoAttacher is returned by New without an Attacher.
	ErrNoAttacher = errors.New("session attacher is required")
)
