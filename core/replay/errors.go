package replay

import "errors"

// ErrSubscriberUnreachable wraps the error a Sink returned when it failed to deliver.
var ErrSubscriberUnreachable = errors.New("subscriber unreachable")
