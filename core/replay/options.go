package replay

import (
	"log/slog"

	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/message"
)

// Option configures Attach.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	onClose  func(error)
	after    message.Sequence
	resume   bool
	subOpts  []dispatch.SubscriptionOption
	onChange func(State)
}

// WithLogger sets the feed logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOnClose registers a callback run once, from the feed goroutine, after the
// feed reaches StateClosed. It receives the same value as Feed.Err. The callback
// must not call Feed.Close.
func WithOnClose(fn func(err error)) Option {
	return func(o *options) {
		o.onClose = fn
	}
}

// WithResumeAfter limits the replay to entries newer than seq. Used by clients
// reconnecting with the last sequence they saw.
func WithResumeAfter(seq message.Sequence) Option {
	return func(o *options) {
		o.after = seq
		o.resume = true
	}
}

// WithSubscriptionOptions forwards options to the dispatcher registration.
func WithSubscriptionOptions(opts ...dispatch.SubscriptionOption) Option {
	return func(o *options) {
		o.subOpts = append(o.subOpts, opts...)
	}
}

// WithStateHook observes state transitions. Used by tests.
func WithStateHook(fn func(State)) Option {
	return func(o *options) {
		o.onChange = fn
	}
}
