package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// Feed is a running pattern subscription. *replay.Feed implements it.
type Feed interface {
	Pattern() string
	Done() <-chan struct{}
	Close()
}

// Request describes a feed to start.
type Request struct {
	Pattern string
	After   message.Sequence
	Resume  bool
	// OnClose must be invoked once when the feed ends, with the reason or nil.
	OnClose func(err error)
}

// Attacher starts feeds for a session.
type Attacher interface {
	Attach(ctx context.Context, req Request) (Feed, error)
}

// AttachFunc adapts a function to Attacher.
type AttachFunc func(ctx context.Context, req Request) (Feed, error)

// Attach calls f.
func (f AttachFunc) Attach(ctx context.Context, req Request) (Feed, error) { return f(ctx, req) }

// Session is the subscription set of one client. Safe for concurrent use.
type Session struct {
	id       uuid.UUID
	attacher Attacher
	logger   *slog.Logger
	onEnd    func(pattern string, err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	feeds  map[string]Feed
	closed bool
}

// New creates a session whose feeds live no longer than ctx.
func New(ctx context.Context, attacher Attacher, opts ...Option) (*Session, error) {
	if attacher == nil {
		return nil, ErrNoAttacher
	}

	s := &Session{
		id:       uuid.New(),
		attacher: attacher,
		logger:   logger.Discard(),
		feeds:    make(map[string]Feed),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger = s.logger.With(logger.ClientID(s.id.String()))

	return s, nil
}

// ID returns the client identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// TrySubscribe adds pattern to the session and starts its feed. It returns true
// only when the pattern was not already present; otherwise nothing is started.
func (s *Session) TrySubscribe(pattern string, opts ...SubscribeOption) (bool, error) {
	if err := topic.ValidatePattern(pattern); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrSessionClosed
	}
	if _, ok := s.feeds[pattern]; ok {
		s.logger.Debug("duplicate subscribe ignored", logger.Pattern(pattern))
		return false, nil
	}

	var feed Feed
	req := Request{
		Pattern: pattern,
		// Runs on the feed goroutine; the lock orders it after the insert below.
		OnClose: func(err error) { s.detach(pattern, &feed, err) },
	}
	for _, opt := range opts {
		opt(&req)
	}

	f, err := s.attacher.Attach(s.ctx, req)
	if err != nil {
		return false, err
	}
	feed = f
	s.feeds[pattern] = f

	s.logger.Info("subscribed", logger.Pattern(pattern))
	return true, nil
}

// Unsubscribe stops the feed for pattern. It reports whether the pattern was present.
func (s *Session) Unsubscribe(pattern string) bool {
	s.mu.Lock()
	f, ok := s.feeds[pattern]
	if ok {
		delete(s.feeds, pattern)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	f.Close()
	s.logger.Info("unsubscribed", logger.Pattern(pattern))
	return true
}

// Has reports whether pattern is currently subscribed.
func (s *Session) Has(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeds[pattern]
	return ok
}

// Patterns returns the subscribed patterns in lexical order.
func (s *Session) Patterns() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.feeds))
	for p := range s.feeds {
		out = append(out, p)
	}
	s.mu.Unlock()

	slices.Sort(out)
	return out
}

// Len returns the number of subscribed patterns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

// Close stops every feed and rejects further subscribes. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	feeds := s.feeds
	s.feeds = make(map[string]Feed)
	s.mu.Unlock()

	s.cancel()
	for _, f := range feeds {
		f.Close()
	}
	s.logger.Debug("session closed", logger.Count("feeds", len(feeds)))
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// detach drops a feed that ended on its own. Feeds stopped through
// Unsubscribe or Close are already gone from the set and are ignored.
func (s *Session) detach(pattern string, feed *Feed, err error) {
	s.mu.Lock()
	cur, ok := s.feeds[pattern]
	selfEnded := ok && cur == *feed
	if selfEnded {
		delete(s.feeds, pattern)
	}
	s.mu.Unlock()

	if !selfEnded {
		return
	}
	if err != nil {
		s.logger.Warn("subscription ended", logger.Pattern(pattern), logger.Error(err))
	}
	if s.onEnd != nil {
		s.onEnd(pattern, err)
	}
}
