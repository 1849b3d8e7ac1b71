package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	DefaultRateBurst    = 100
	DefaultMaxBodyBytes = 1 << 20
	DefaultSendBuffer   = 256
	DefaultSSEKeepAlive = 15 * time.Second
	DefaultSSERetry     = 3 * time.Second
	DefaultPongWait     = 60 * time.Second

	// writeWait is the maximum time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// maxControlFrameSize bounds inbound client frames.
	maxControlFrameSize = 4096
	// wsBufferSize is the upgrader read and write buffer size.
	wsBufferSize = 1024
)

type options struct {
	logger       *slog.Logger
	rps          float64
	burst        int
	maxBody      int64
	originCheck  func(r *http.Request) bool
	sendBuffer   int
	sseKeepAlive time.Duration
	sseRetry     time.Duration
	pongWait     time.Duration
}

// Option configures a Transport.
type Option func(*options)

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRateLimit limits publishes per client IP. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rps = rps
		o.burst = burst
	}
}

// WithMaxBodyBytes caps publish request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// "*" allows any origin. Without origins the same-host check applies.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) {
		if len(origins) == 0 {
			o.originCheck = nil
			return
		}
		if slices.Contains(origins, "*") {
			o.originCheck = func(*http.Request) bool { return true }
			return
		}
		allowed := make([]string, 0, len(origins))
		for _, origin := range origins {
			allowed = append(allowed, strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/")))
		}
		o.originCheck = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.Contains(allowed, strings.ToLower(u.Scheme+"://"+u.Host))
		}
	}
}

// WithSendBuffer sets how many outbound frames may wait per connection.
func WithSendBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendBuffer = n
		}
	}
}

// WithSSEKeepAlive sets the SSE comment interval. Zero disables keep-alives.
func WithSSEKeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.sseKeepAlive = d
	}
}

// WithSSERetry sets the reconnection delay advertised to SSE clients.
// Zero leaves it to the client.
func WithSSERetry(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.sseRetry = d
		}
	}
}

// WithPongWait sets how long a WebSocket peer may stay silent. Pings go out at
// nine tenths of it.
func WithPongWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pongWait = d
		}
	}
}
