package heartbeat

import "errors"

var (
	ErrPublisherNil   = errors.New("heartbeat publisher is nil")
	ErrAlreadyStarted = errors.New("heartbeat worker already started")
	ErrNotStarted     = errors.New("heartbeat worker not started")
)
