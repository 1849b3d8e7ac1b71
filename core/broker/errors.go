package broker

import "errors"

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")
