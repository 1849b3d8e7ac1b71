// Package dispatch fans published entries out to pattern subscriptions.
//
// The registry is an immutable slice swapped atomically on every Register and
// Unregister, so Publish reads it without locking. Each Subscription owns a bounded
// queue; Publish only ever enqueues, and a full queue is resolved by the
// subscription's OverflowPolicy instead of blocking the publisher.
package dispatch

import (
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// Dispatcher routes entries to matching subscriptions. Safe for concurrent use.
type Dispatcher struct {
	mu     sync.Mutex // serializes registry writers
	subs   atomic.Pointer[[]*Subscription]
	nextID atomic.Uint64

	queueSize int
	policy    OverflowPolicy
	logger    *slog.Logger

	published    atomic.Uint64
	delivered    atomic.Uint64
	disconnected atomic.Uint64
}

// Stats reports dispatcher counters.
type Stats struct {
	Subscriptions int
	Published     uint64
	Delivered     uint64
	Dropped       uint64
	Disconnected  uint64
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queueSize: DefaultQueueSize,
		policy:    Disconnect,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	empty := []*Subscription{}
	d.subs.Store(&empty)
	return d
}

// Register compiles pattern and adds a subscription. The subscription sees every
// entry published after Register returns and none published before it was called.
func (d *Dispatcher) Register(pattern string, opts ...SubscriptionOption) (*Subscription, error) {
	m, err := topic.Compile(pattern)
	if err != nil {
		return nil, err
	}

	o := subscriptionOptions{queueSize: d.queueSize, policy: d.policy}
	for _, opt := range opts {
		opt(&o)
	}

	sub := &Subscription{
		id:      d.nextID.Add(1),
		pattern: pattern,
		matcher: m,
		policy:  o.policy,
		owner:   d,
		queue:   newRing(o.queueSize),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	cur := *d.subs.Load()
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, sub)
	d.subs.Store(&next)
	d.mu.Unlock()

	d.logger.Debug("subscription registered",
		logger.Pattern(pattern),
		slog.Uint64("subscription_id", sub.id),
		slog.String("policy", o.policy.String()))

	return sub, nil
}

// Unregister closes sub and removes it from the registry. Idempotent.
func (d *Dispatcher) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.shutdown(ErrSubscriptionClosed)
	d.remove(sub)
}

// Publish offers e to every subscription whose pattern matches its topic and
// returns the number of subscriptions that accepted it. Never blocks.
func (d *Dispatcher) Publish(e message.Entry) int {
	d.published.Add(1)

	n := 0
	for _, sub := range *d.subs.Load() {
		if !sub.matcher.Match(e.Message.Topic) {
			continue
		}
		ok, disconnect := sub.enqueue(e)
		if ok {
			n++
			continue
		}
		if disconnect {
			d.disconnected.Add(1)
			d.logger.Warn("subscription disconnected: queue full",
				logger.Pattern(sub.pattern),
				slog.Uint64("subscription_id", sub.id),
				logger.Sequence(uint64(e.Sequence)))
			d.remove(sub)
		}
	}
	d.delivered.Add(uint64(n))
	return n
}

// Len returns the number of registered subscriptions.
func (d *Dispatcher) Len() int {
	return len(*d.subs.Load())
}

// Close closes every registered subscription.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	cur := *d.subs.Load()
	empty := []*Subscription{}
	d.subs.Store(&empty)
	d.mu.Unlock()

	for _, sub := range cur {
		sub.shutdown(ErrSubscriptionClosed)
	}
}

// Stats returns a point-in-time copy of the counters.
func (d *Dispatcher) Stats() Stats {
	subs := *d.subs.Load()
	var dropped uint64
	for _, sub := range subs {
		dropped += sub.Dropped()
	}
	return Stats{
		Subscriptions: len(subs),
		Published:     d.published.Load(),
		Delivered:     d.delivered.Load(),
		Dropped:       dropped,
		Disconnected:  d.disconnected.Load(),
	}
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := *d.subs.Load()
	i := slices.Index(cur, sub)
	if i < 0 {
		return
	}
	next := make([]*Subscription, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	d.subs.Store(&next)
}
