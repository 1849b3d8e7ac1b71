package dispatch

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultQueueSize is the per-subscription queue bound unless configured otherwise.
const DefaultQueueSize = 1024

// OverflowPolicy decides what happens when a subscription's queue is full.
type OverflowPolicy int

const (
	// Disconnect closes the subscription with ErrCapacityExceeded.
	Disconnect OverflowPolicy = iota
	// DropOldest discards the oldest queued entry to make room.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case Disconnect:
		return "disconnect"
	case DropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy maps the textual form used in configuration.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disconnect":
		return Disconnect, nil
	case "drop_oldest":
		return DropOldest, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the default per-subscription queue bound. Non-positive values are ignored.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithOverflowPolicy sets the default overflow policy.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// SubscriptionOption overrides dispatcher defaults for one registration.
type SubscriptionOption func(*subscriptionOptions)

type subscriptionOptions struct {
	queueSize int
	policy    OverflowPolicy
}

// WithSubscriptionQueueSize overrides the queue bound for one subscription.
func WithSubscriptionQueueSize(n int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithSubscriptionPolicy overrides the overflow policy for one subscription.
func WithSubscriptionPolicy(p OverflowPolicy) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.policy = p
	}
}
