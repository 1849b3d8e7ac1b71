package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/tailbus/core/handler"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/response"
	"github.com/dmitrymomot/tailbus/core/session"
)

// subscribeSSE streams one "message" event per delivery with the sequence as
// event ID. The stream ends when a feed is dropped so the client reconnects
// with Last-Event-ID and resumes from the retained window.
func (t *Transport) subscribeSSE(r *http.Request) handler.Response {
	q, err := parseSubscribeQuery(r, true)
	if err != nil {
		return response.Error(err)
	}
	if len(q.patterns) == 0 {
		return response.Error(response.ErrBadRequest.WithCode(CodeInvalidPattern).WithMessage("at least one pattern is required"))
	}

	ctx, cancel := context.WithCancel(r.Context())
	events := make(chan response.Event, t.opts.sendBuffer)

	sink := replay.SinkFunc(func(ctx context.Context, d replay.Delivery) error {
		ev := response.Event{
			Name: FrameMessage,
			ID:   strconv.FormatUint(uint64(d.Entry.Sequence), 10),
			Data: messageFrame(d),
		}
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	sess, err := t.broker.NewSession(ctx, sink, session.WithOnFeedEnd(func(pattern string, err error) {
		t.opts.logger.WarnContext(ctx, "sse feed ended", logger.Pattern(pattern), logger.Error(err))
		cancel()
	}))
	if err != nil {
		cancel()
		return response.Error(asHTTPError(err))
	}

	var opts []session.SubscribeOption
	if q.resume {
		opts = append(opts, session.WithResumeAfter(q.after))
	}
	for _, p := range q.patterns {
		if _, err := sess.TrySubscribe(p, opts...); err != nil {
			t.broker.CloseSession(sess)
			cancel()
			return response.Error(asHTTPError(err))
		}
	}

	log := t.opts.logger.With(logger.ClientID(sess.ID().String()))
	sseOpts := []response.EventOption{
		response.WithSSEErrorHandler(func(ctx context.Context, err error) {
			log.DebugContext(ctx, "sse write failed", logger.Error(err))
		}),
	}
	if t.opts.sseRetry > 0 {
		sseOpts = append(sseOpts, response.WithReconnectTime(int(t.opts.sseRetry.Milliseconds())))
	}
	if t.opts.sseKeepAlive > 0 {
		sseOpts = append(sseOpts, response.WithKeepAlive(t.opts.sseKeepAlive))
	} else {
		sseOpts = append(sseOpts, response.WithoutKeepAlive())
	}
	stream := response.SSE(events, sseOpts...)

	return func(w http.ResponseWriter, r *http.Request) error {
		defer cancel()
		defer t.broker.CloseSession(sess)

		log.InfoContext(ctx, "sse connected", logger.Count("patterns", len(q.patterns)))
		return stream(w, r.WithContext(ctx))
	}
}
