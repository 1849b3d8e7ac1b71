package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/tailbus/core/handler"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/response"
	"github.com/dmitrymomot/tailbus/core/session"
)

func (t *Transport) subscribeWS(r *http.Request) handler.Response {
	q, err := parseSubscribeQuery(r, false)
	if err != nil {
		return response.Error(err)
	}

	return response.WebSocket(
		func(ctx context.Context, conn *websocket.Conn) error {
			return t.serveWS(ctx, conn, q)
		},
		response.WithWSOriginCheck(t.opts.originCheck),
		response.WithWSReadBuffer(wsBufferSize),
		response.WithWSWriteBuffer(wsBufferSize),
		response.WithWSHandshakeTimeout(writeWait),
		response.WithWSErrorHandler(func(ctx context.Context, err error) {
			t.opts.logger.WarnContext(ctx, "websocket error", logger.Error(err))
		}),
	)
}

func (t *Transport) serveWS(ctx context.Context, conn *websocket.Conn, q subscribeQuery) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &wsClient{
		conn:     conn,
		send:     make(chan []byte, t.opts.sendBuffer),
		done:     make(chan struct{}),
		pongWait: t.opts.pongWait,
	}

	sess, err := t.broker.NewSession(ctx, c, session.WithOnFeedEnd(c.feedEnded))
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		return err
	}
	c.sess = sess
	c.log = t.opts.logger.With(logger.ClientID(sess.ID().String()))
	c.log.InfoContext(ctx, "websocket connected", slog.Int("patterns", len(q.patterns)))

	written := make(chan error, 1)
	go func() { written <- c.writePump(ctx) }()

	for _, p := range q.patterns {
		c.subscribe(p, q.after, q.resume)
	}

	err = c.readPump()

	c.close()
	t.broker.CloseSession(sess)
	cancel()
	if werr := <-written; err == nil {
		err = werr
	}

	c.log.InfoContext(ctx, "websocket disconnected", logger.Error(err))
	return err
}

// wsClient is one WebSocket connection. It is the replay.Sink for every feed
// of its session; writePump is the only goroutine writing to conn.
type wsClient struct {
	conn     *websocket.Conn
	sess     *session.Session
	log      *slog.Logger
	pongWait time.Duration

	send chan []byte
	done chan struct{}
	once sync.Once

	// ackMu orders a subscribe acknowledgement ahead of the new feed's first
	// delivery: feeds enqueue under RLock, subscribe holds Lock.
	ackMu sync.RWMutex
}

// Deliver implements replay.Sink.
func (c *wsClient) Deliver(ctx context.Context, d replay.Delivery) error {
	b, err := json.Marshal(messageFrame(d))
	if err != nil {
		return err
	}

	c.ackMu.RLock()
	defer c.ackMu.RUnlock()

	select {
	case c.send <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errConnClosed
	}
}

func (c *wsClient) enqueue(f ServerFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		c.log.Error("encode frame", logger.Error(err))
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsClient) subscribe(pattern string, after message.Sequence, resume bool) {
	var opts []session.SubscribeOption
	if resume {
		opts = append(opts, session.WithResumeAfter(after))
	}

	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	added, err := c.sess.TrySubscribe(pattern, opts...)
	if err != nil {
		c.enqueue(errorFrame(pattern, errorCode(err), err.Error()))
		return
	}
	c.enqueue(subscribedFrame(pattern, added))
}

func (c *wsClient) unsubscribe(pattern string) {
	if !c.sess.Unsubscribe(pattern) {
		c.enqueue(errorFrame(pattern, CodeNotSubscribed, "pattern is not subscribed"))
		return
	}
	c.enqueue(unsubscribedFrame(pattern))
}

// feedEnded reports a feed the broker dropped, typically for falling behind.
func (c *wsClient) feedEnded(pattern string, err error) {
	if err == nil || errors.Is(err, errConnClosed) || c.closed() {
		return
	}
	c.enqueue(errorFrame(pattern, errorCode(err), err.Error()))
}

func (c *wsClient) readPump() error {
	c.conn.SetReadLimit(maxControlFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed() || !websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}

		var f ClientFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.enqueue(errorFrame("", CodeBadRequest, "malformed control frame"))
			continue
		}

		switch f.Action {
		case ActionSubscribe:
			var after message.Sequence
			resume := f.After != ""
			if resume {
				seq, err := parseSequence(f.After.String())
				if err != nil {
					c.enqueue(errorFrame(f.Pattern, CodeInvalidAfter, "after must be a decimal sequence"))
					continue
				}
				after = seq
			}
			c.subscribe(f.Pattern, after, resume)
		case ActionUnsubscribe:
			c.unsubscribe(f.Pattern)
		default:
			c.enqueue(errorFrame(f.Pattern, CodeUnknownAction, "action must be subscribe or unsubscribe"))
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case <-c.done:
			c.writeClose(websocket.CloseNormalClosure)
			return nil

		case <-ctx.Done():
			c.writeClose(websocket.CloseGoingAway)
			return nil
		}
	}
}

func (c *wsClient) writeClose(code int) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(writeWait))
}
