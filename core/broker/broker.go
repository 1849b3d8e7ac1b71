// Package broker wires the retention buffer, the dispatcher and subscriber
// sessions into a publish/subscribe broker with replay.
//
//	b := broker.New(broker.WithRetentionWindow(5 * time.Second))
//	defer b.Close()
//
//	sess, _ := b.NewSession(ctx, sink)
//	defer b.CloseSession(sess)
//	sess.TrySubscribe("orders.*")
//
//	b.Publish(ctx, "orders.created", []byte(`{"id":1}`))
//
// A subscriber first receives every retained entry matching its pattern that is
// younger than the retention window, then every later entry, in sequence order.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/retention"
	"github.com/dmitrymomot/tailbus/core/session"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// Broker is safe for concurrent use.
type Broker struct {
	buffer     *retention.Buffer
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
	startedAt  time.Time

	// pubMu makes append and fan-out one step, so every subscription queues
	// entries in sequence order. Fan-out under it never blocks.
	pubMu sync.Mutex

	closed atomic.Bool

	sessMu   sync.Mutex
	sessions map[*session.Session]struct{}

	published atomic.Uint64
	rejected  atomic.Uint64
}

// Stats is a snapshot of broker counters.
type Stats struct {
	Retained        int              `json:"retained"`
	Evicted         uint64           `json:"evicted"`
	RetentionDrops  uint64           `json:"retention_drops"`
	LastSequence    message.Sequence `json:"last_sequence"`
	Subscriptions   int              `json:"subscriptions"`
	Sessions        int              `json:"sessions"`
	Published       uint64           `json:"published"`
	Rejected        uint64           `json:"rejected"`
	Delivered       uint64           `json:"delivered"`
	SubscriberDrops uint64           `json:"subscriber_drops"`
	Disconnected    uint64           `json:"disconnected"`
	Uptime          time.Duration    `json:"uptime"`
}

// New creates a Broker.
func New(opts ...Option) *Broker {
	o := options{
		window:      DefaultRetentionWindow,
		maxRetained: retention.DefaultMaxEntries,
		capPolicy:   retention.PolicyDropOldest,
		queueSize:   dispatch.DefaultQueueSize,
		overflow:    dispatch.Disconnect,
		logger:      logger.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Broker{
		buffer: retention.New(o.window,
			retention.WithMaxEntries(o.maxRetained),
			retention.WithCapacityPolicy(o.capPolicy),
			retention.WithClock(o.now),
		),
		dispatcher: dispatch.New(
			dispatch.WithQueueSize(o.queueSize),
			dispatch.WithOverflowPolicy(o.overflow),
			dispatch.WithLogger(o.logger.With(logger.Component("dispatch"))),
		),
		logger:    o.logger.With(logger.Component("broker")),
		now:       o.now,
		startedAt: o.now(),
		sessions:  make(map[*session.Session]struct{}),
	}

	b.logger.Info("broker initialized",
		slog.Duration("retention_window", o.window),
		slog.Int("max_retained", o.maxRetained),
		slog.Int("queue_size", o.queueSize),
		slog.String("overflow_policy", o.overflow.String()))

	return b
}

// Publish validates topic, retains the message and fans it out to live subscriptions.
// The payload is copied.
func (b *Broker) Publish(ctx context.Context, name string, payload []byte) (message.Entry, error) {
	if b.closed.Load() {
		return message.Entry{}, ErrClosed
	}
	if err := topic.ValidateTopic(name); err != nil {
		b.rejected.Add(1)
		return message.Entry{}, err
	}

	b.pubMu.Lock()
	e, err := b.buffer.Append(message.Message{Topic: name, Payload: payload})
	if err != nil {
		b.pubMu.Unlock()
		b.rejected.Add(1)
		b.logger.WarnContext(ctx, "publish rejected", logger.Topic(name), logger.Error(err))
		return message.Entry{}, err
	}
	n := b.dispatcher.Publish(e)
	b.pubMu.Unlock()

	b.published.Add(1)
	b.logger.DebugContext(ctx, "message published",
		logger.Topic(name),
		logger.Sequence(uint64(e.Sequence)),
		logger.Count("subscribers", n))

	return e, nil
}

// NewSession creates a subscriber session whose feeds deliver to sink.
// Release it with CloseSession.
func (b *Broker) NewSession(ctx context.Context, sink replay.Sink, opts ...session.Option) (*session.Session, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if sink == nil {
		return nil, fmt.Errorf("broker: nil sink")
	}

	feedLog := b.logger.With(logger.Component("replay"))
	attacher := session.AttachFunc(func(ctx context.Context, req session.Request) (session.Feed, error) {
		ropts := []replay.Option{
			replay.WithLogger(feedLog),
			replay.WithOnClose(req.OnClose),
		}
		if req.Resume {
			ropts = append(ropts, replay.WithResumeAfter(req.After))
		}
		f, err := replay.Attach(ctx, b.buffer, b.dispatcher, req.Pattern, sink, ropts...)
		if err != nil {
			return nil, err
		}
		return f, nil
	})

	opts = append([]session.Option{session.WithLogger(b.logger.With(logger.Component("session")))}, opts...)
	s, err := session.New(ctx, attacher, opts...)
	if err != nil {
		return nil, err
	}

	b.sessMu.Lock()
	defer b.sessMu.Unlock()
	if b.closed.Load() {
		s.Close()
		return nil, ErrClosed
	}
	b.sessions[s] = struct{}{}

	return s, nil
}

// CloseSession closes s and stops tracking it. Safe to call more than once.
func (b *Broker) CloseSession(s *session.Session) {
	if s == nil {
		return
	}
	b.sessMu.Lock()
	delete(b.sessions, s)
	b.sessMu.Unlock()
	s.Close()
}

// Snapshot returns the retained entries matching pattern that are inside the window.
func (b *Broker) Snapshot(pattern string) ([]message.Entry, error) {
	m, err := topic.Compile(pattern)
	if err != nil {
		return nil, err
	}
	all := b.buffer.Snapshot()
	out := make([]message.Entry, 0, len(all))
	for _, e := range all {
		if m.Match(e.Topic()) {
			out = append(out, e)
		}
	}
	return out, nil
}

// RetentionWindow returns the replay window.
func (b *Broker) RetentionWindow() time.Duration { return b.buffer.Window() }

// Prune evicts expired entries. Pruning also happens lazily on every publish.
func (b *Broker) Prune() int { return b.buffer.Prune() }

// Stats returns a point-in-time view of the broker counters.
func (b *Broker) Stats() Stats {
	bs := b.buffer.Stats()
	ds := b.dispatcher.Stats()

	b.sessMu.Lock()
	sessions := len(b.sessions)
	b.sessMu.Unlock()

	return Stats{
		Retained:        bs.Len,
		Evicted:         bs.Evicted,
		RetentionDrops:  bs.Dropped,
		LastSequence:    bs.Last,
		Subscriptions:   ds.Subscriptions,
		Sessions:        sessions,
		Published:       b.published.Load(),
		Rejected:        b.rejected.Load(),
		Delivered:       ds.Delivered,
		SubscriberDrops: ds.Dropped,
		Disconnected:    ds.Disconnected,
		Uptime:          b.now().Sub(b.startedAt),
	}
}

// Ping reports whether the broker accepts traffic.
func (b *Broker) Ping(context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close stops accepting publishes and sessions, then closes every session. Idempotent.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.sessMu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	clear(b.sessions)
	b.sessMu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	b.dispatcher.Close()

	b.logger.Info("broker closed", logger.Count("sessions", len(sessions)))
	return nil
}
