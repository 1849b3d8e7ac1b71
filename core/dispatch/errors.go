package dispatch

import "errors"

var (
	// ErrCapacityExceeded closes a subscription whose queue overflowed under the Disconnect policy.
	ErrCapacityExceeded = errors.New("subscription queue capacity exceeded")
	// ErrSubscriptionClosed is returned by Next once the subscription is closed.
	ErrSubscriptionClosed = errors.New("subscription closed")
)
