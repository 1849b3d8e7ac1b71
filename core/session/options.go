package session

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tailbus/core/message"
)

// Option configures a Session.
type Option func(*Session)

// WithID sets the client ID instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(s *Session) {
		if id != uuid.Nil {
			s.id = id
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOnFeedEnd registers fn for feeds that end without Unsubscribe or Close,
// such as an overflow disconnect. fn runs on the feed goroutine after the
// pattern has been removed, so it may subscribe again.
func WithOnFeedEnd(fn func(pattern string, err error)) Option {
	return func(s *Session) {
		s.onEnd = fn
	}
}

// SubscribeOption adjusts one TrySubscribe call.
type SubscribeOption func(*Request)

// WithResumeAfter replays only entries newer than seq.
func WithResumeAfter(seq message.Sequence) SubscribeOption {
	return func(r *Request) {
		r.After = seq
		r.Resume = true
	}
}
