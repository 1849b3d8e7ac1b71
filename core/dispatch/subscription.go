package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// Subscription is one dispatcher registration: a compiled pattern and the bounded
// queue its live entries land in. The consumer drains it with Next or TryNext.
type Subscription struct {
	id      uint64
	pattern string
	matcher topic.Matcher
	policy  OverflowPolicy
	owner   *Dispatcher

	mu     sync.Mutex
	queue  *ring
	closed bool
	err    error

	notify chan struct{}
	done   chan struct{}

	dropped atomic.Uint64
}

// ID is unique within the dispatcher that created the subscription.
func (s *Subscription) ID() uint64 { return s.id }

// Pattern returns the pattern the subscription was registered with.
func (s *Subscription) Pattern() string { return s.pattern }

// Match reports whether topic matches the subscription's pattern.
func (s *Subscription) Match(topic string) bool { return s.matcher.Match(topic) }

// Policy returns the overflow policy in effect.
func (s *Subscription) Policy() OverflowPolicy { return s.policy }

// Dropped counts entries discarded by DropOldest.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Pending returns the number of queued entries.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the reason the subscription closed: nil while open,
// ErrSubscriptionClosed after Close, ErrCapacityExceeded after an overflow disconnect.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// TryNext pops the oldest queued entry without blocking.
func (s *Subscription) TryNext() (message.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return message.Entry{}, false
	}
	return s.queue.pop()
}

// Next blocks until an entry is queued, the subscription closes or ctx is done.
func (s *Subscription) Next(ctx context.Context) (message.Entry, error) {
	for {
		s.mu.Lock()
		if s.closed {
			err := s.err
			s.mu.Unlock()
			return message.Entry{}, err
		}
		if e, ok := s.queue.pop(); ok {
			s.mu.Unlock()
			return e, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return message.Entry{}, ctx.Err()
		}
	}
}

// Close unregisters the subscription and discards queued entries. Idempotent.
func (s *Subscription) Close() {
	s.owner.Unregister(s)
}

// enqueue is called by Publish. It never blocks. The returned flag is true when the
// subscription must be removed from the registry.
func (s *Subscription) enqueue(e message.Entry) (delivered, disconnect bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, false
	}

	if s.queue.full() {
		switch s.policy {
		case DropOldest:
			s.queue.pop()
			s.dropped.Add(1)
		default:
			s.closeLocked(ErrCapacityExceeded)
			s.mu.Unlock()
			return false, true
		}
	}
	s.queue.push(e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true, false
}

// shutdown marks the subscription closed with err unless it already is.
func (s *Subscription) shutdown(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closeLocked(err)
	return true
}

func (s *Subscription) closeLocked(err error) {
	s.closed = true
	s.err = err
	s.queue.reset()
	close(s.done)
}
