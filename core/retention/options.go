package retention

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxEntries caps a buffer created without WithMaxEntries.
const DefaultMaxEntries = 100_000

// CapacityPolicy decides what Append does when the buffer is full.
type CapacityPolicy int

const (
	// PolicyDropOldest evicts the oldest entry even if it is still inside the window.
	PolicyDropOldest CapacityPolicy = iota
	// PolicyReject fails the append with ErrCapacityExceeded.
	PolicyReject
)

func (p CapacityPolicy) String() string {
	switch p {
	case PolicyDropOldest:
		return "drop_oldest"
	case PolicyReject:
		return "reject"
	default:
		return fmt.Sprintf("CapacityPolicy(%d)", int(p))
	}
}

// ParseCapacityPolicy maps the textual form used in configuration.
func ParseCapacityPolicy(s string) (CapacityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest":
		return PolicyDropOldest, nil
	case "reject":
		return PolicyReject, nil
	default:
		return 0, fmt.Errorf("unknown retention capacity policy %q", s)
	}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxEntries bounds the number of retained entries. Non-positive values are ignored.
func WithMaxEntries(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxEntries = n
		}
	}
}

// WithCapacityPolicy sets the behavior of Append on a full buffer.
func WithCapacityPolicy(p CapacityPolicy) Option {
	return func(b *Buffer) {
		b.policy = p
	}
}

// WithClock replaces the wall-clock source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}
