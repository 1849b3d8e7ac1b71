// Package replay splices a retained backlog onto a live subscription.
//
// Attach registers with the dispatcher before it reads the retention buffer, so
// every entry published during the snapshot is either in the snapshot, in the
// subscription queue, or both. The feed then delivers the snapshot and drains
// the queue through a Cursor that drops anything at or behind the last delivered
// sequence. No entry is lost at the splice point and none is delivered twice.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
)

// Source is the retained history a feed replays. *retention.Buffer implements it.
type Source interface {
	SnapshotSince(since message.Sequence) []message.Entry
}

// Registrar creates live subscriptions. *dispatch.Dispatcher implements it.
type Registrar interface {
	Register(pattern string, opts ...dispatch.SubscriptionOption) (*dispatch.Subscription, error)
}

// Feed delivers one pattern's replay and live tail to a Sink.
type Feed struct {
	pattern string
	sub     *dispatch.Subscription
	sink    Sink
	opts    options

	state     atomic.Int32
	delivered atomic.Uint64
	skipped   atomic.Uint64

	cursor Cursor // owned by the feed goroutine

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Attach starts a feed for pattern. The returned feed is already in StateMerging
// or later; its goroutine runs until Close, ctx cancellation or a delivery failure.
func Attach(ctx context.Context, src Source, reg Registrar, pattern string, sink Sink, opts ...Option) (*Feed, error) {
	o := options{logger: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	f := &Feed{
		pattern: pattern,
		sink:    sink,
		opts:    o,
		done:    make(chan struct{}),
	}
	f.setState(StateSnapshotting)

	sub, err := reg.Register(pattern, o.subOpts...)
	if err != nil {
		return nil, err
	}
	f.sub = sub

	since := message.Sequence(0)
	if o.resume {
		// Live entries at or behind after are skipped too.
		f.cursor = Cursor{last: o.after, started: true}
		since = o.after
		if since < math.MaxUint64 {
			since++
		}
	}
	snapshot := Plan(matching(src.SnapshotSince(since), sub), since)

	f.ctx, f.cancel = context.WithCancel(ctx)
	f.setState(StateMerging)
	go f.run(snapshot)

	return f, nil
}

// Pattern returns the subscribed pattern.
func (f *Feed) Pattern() string { return f.pattern }

// State returns the current lifecycle stage.
func (f *Feed) State() State { return State(f.state.Load()) }

// Delivered counts entries handed to the sink.
func (f *Feed) Delivered() uint64 { return f.delivered.Load() }

// Skipped counts live entries dropped as duplicates of the replay.
func (f *Feed) Skipped() uint64 { return f.skipped.Load() }

// Done is closed when the feed reaches StateClosed.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Err returns why the feed closed. It is nil while running and after a normal
// Close or context cancellation. Valid once Done is closed.
func (f *Feed) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Close stops the feed, unregisters it and waits for its goroutine to exit.
// Must not be called from the feed's own sink or close callback.
func (f *Feed) Close() {
	f.cancel()
	f.sub.Close()
	<-f.done
}

func matching(entries []message.Entry, sub *dispatch.Subscription) []message.Entry {
	out := make([]message.Entry, 0, len(entries))
	for _, e := range entries {
		if sub.Match(e.Topic()) {
			out = append(out, e)
		}
	}
	return out
}

func (f *Feed) run(snapshot []message.Entry) {
	// Unblock a stalled sink as soon as the dispatcher drops the subscription.
	stop := make(chan struct{})
	go func() {
		select {
		case <-f.sub.Done():
			f.cancel()
		case <-stop:
		}
	}()
	defer close(stop)

	err := f.replay(snapshot)
	if err == nil {
		err = f.tail()
	}
	f.finish(err)
}

func (f *Feed) replay(snapshot []message.Entry) error {
	for _, e := range snapshot {
		if !f.cursor.Admit(e) {
			continue
		}
		if err := f.deliver(e); err != nil {
			return err
		}
	}

	for {
		e, ok := f.sub.TryNext()
		if !ok {
			break
		}
		if !f.cursor.Admit(e) {
			f.skipped.Add(1)
			continue
		}
		if err := f.deliver(e); err != nil {
			return err
		}
	}

	f.setState(StateLive)
	return nil
}

func (f *Feed) tail() error {
	for {
		e, err := f.sub.Next(f.ctx)
		if err != nil {
			return err
		}
		if !f.cursor.Admit(e) {
			f.skipped.Add(1)
			continue
		}
		if err := f.deliver(e); err != nil {
			return err
		}
	}
}

func (f *Feed) deliver(e message.Entry) error {
	if err := f.ctx.Err(); err != nil {
		return err
	}
	if err := f.sink.Deliver(f.ctx, Delivery{Pattern: f.pattern, Entry: e}); err != nil {
		if f.ctx.Err() != nil {
			return f.ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrSubscriberUnreachable, err)
	}
	f.delivered.Add(1)
	return nil
}

func (f *Feed) finish(err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, dispatch.ErrSubscriptionClosed):
		err = nil
		if subErr := f.sub.Err(); errors.Is(subErr, dispatch.ErrCapacityExceeded) {
			err = subErr
		}
	}

	f.sub.Close()
	f.cancel()
	f.err = err
	f.setState(StateClosed)

	if err != nil {
		f.opts.logger.Warn("feed closed",
			logger.Pattern(f.pattern),
			logger.Error(err),
			slog.Uint64("delivered", f.delivered.Load()))
	}

	close(f.done)
	if f.opts.onClose != nil {
		f.opts.onClose(err)
	}
}

func (f *Feed) setState(s State) {
	f.state.Store(int32(s))
	f.opts.logger.Debug("feed state", logger.Pattern(f.pattern), logger.State(s.String()))
	if f.opts.onChange != nil {
		f.opts.onChange(s)
	}
}
