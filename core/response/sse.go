package response

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/tailbus/core/handler"
)

// DefaultSSEKeepAlive is the default keep-alive interval for SSE connections.
const DefaultSSEKeepAlive = 30 * time.Second

// Event is a single Server-Sent Event. Data that is not a string or []byte is
// encoded as JSON.
type Event struct {
	Name string
	ID   string
	Data any
}

type sseConfig struct {
	reconnect   int
	keepAlive   time.Duration
	noKeepAlive bool
	onError     func(context.Context, error)
}

// EventOption configures Server-Sent Events behavior.
type EventOption func(*sseConfig)

// WithReconnectTime sets the client reconnection time in milliseconds.
func WithReconnectTime(milliseconds int) EventOption {
	return func(s *sseConfig) {
		s.reconnect = milliseconds
	}
}

// WithKeepAlive sets the keep-alive interval.
func WithKeepAlive(interval time.Duration) EventOption {
	return func(s *sseConfig) {
		s.keepAlive = interval
	}
}

// WithoutKeepAlive disables keep-alive comments.
func WithoutKeepAlive() EventOption {
	return func(s *sseConfig) {
		s.noKeepAlive = true
	}
}

// WithSSEErrorHandler sets a handler for streaming errors.
func WithSSEErrorHandler(fn func(context.Context, error)) EventOption {
	return func(s *sseConfig) {
		s.onError = fn
	}
}

// SSE streams events until the channel closes, the client disconnects or a
// write fails. The server write deadline is cleared for the stream.
func SSE(events <-chan Event, opts ...EventOption) handler.Response {
	cfg := &sseConfig{keepAlive: DefaultSSEKeepAlive}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, req *http.Request) error {
		rc := http.NewResponseController(w)
		// Long-lived stream: ignore the server-wide write timeout. Not every
		// writer supports deadlines.
		_ = rc.SetWriteDeadline(time.Time{})

		fail := func(err error) error {
			if cfg.onError != nil {
				cfg.onError(req.Context(), err)
			}
			return nil
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if cfg.reconnect > 0 {
			if _, err := fmt.Fprintf(w, "retry: %d\n\n", cfg.reconnect); err != nil {
				return fail(err)
			}
		}
		if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
			return fail(fmt.Errorf("failed to write connection message: %w", err))
		}
		if err := rc.Flush(); err != nil {
			return fail(fmt.Errorf("streaming unsupported: %w", err))
		}

		var keepAlive *time.Ticker
		var keepAliveC <-chan time.Time
		if !cfg.noKeepAlive && cfg.keepAlive > 0 {
			keepAlive = time.NewTicker(cfg.keepAlive)
			keepAliveC = keepAlive.C
			defer keepAlive.Stop()
		}

		for {
			select {
			case <-req.Context().Done():
				return nil

			case <-keepAliveC:
				if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
					return fail(fmt.Errorf("failed to send keepalive: %w", err))
				}
				if err := rc.Flush(); err != nil {
					return fail(err)
				}

			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if keepAlive != nil {
					keepAlive.Reset(cfg.keepAlive)
				}
				if err := writeSSEEvent(w, ev); err != nil {
					return fail(fmt.Errorf("failed to write event: %w", err))
				}
				if err := rc.Flush(); err != nil {
					return fail(err)
				}
			}
		}
	}
}

func writeSSEEvent(w io.Writer, ev Event) error {
	if ev.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
			return err
		}
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}

	var data string
	switch v := ev.Data.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = string(b)
	}

	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}
