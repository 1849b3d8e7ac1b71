package broker

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/retention"
)

// DefaultRetentionWindow is how far back a new subscription replays.
const DefaultRetentionWindow = 5 * time.Second

type options struct {
	window      time.Duration
	maxRetained int
	capPolicy   retention.CapacityPolicy
	queueSize   int
	overflow    dispatch.OverflowPolicy
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Broker.
type Option func(*options)

// WithRetentionWindow sets the replay window. Negative values are ignored.
func WithRetentionWindow(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.window = d
		}
	}
}

// WithMaxRetained bounds the retention buffer.
func WithMaxRetained(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetained = n
		}
	}
}

// WithRetentionPolicy sets what happens when the retention buffer is full.
func WithRetentionPolicy(p retention.CapacityPolicy) Option {
	return func(o *options) {
		o.capPolicy = p
	}
}

// WithQueueSize sets the per-subscription queue bound.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithOverflowPolicy sets what happens when a subscription queue is full.
func WithOverflowPolicy(p dispatch.OverflowPolicy) Option {
	return func(o *options) {
		o.overflow = p
	}
}

// WithLogger sets the broker logger. Components log under it with their own component attr.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces the time source of the retention buffer.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
