package retention

import "errors"

// ErrCapacityExceeded is returned by Append under PolicyReject when every retained
// entry is still inside the window.
var ErrCapacityExceeded = errors.New("retention buffer capacity exceeded")
