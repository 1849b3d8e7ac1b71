package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dmitrymomot/tailbus/core/broker"
	"github.com/dmitrymomot/tailbus/core/handler"
	"github.com/dmitrymomot/tailbus/core/health"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/response"
	"github.com/dmitrymomot/tailbus/core/session"
	"github.com/dmitrymomot/tailbus/middleware"
)

// Broker is the part of *broker.Broker the transport uses.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) (message.Entry, error)
	NewSession(ctx context.Context, sink replay.Sink, opts ...session.Option) (*session.Session, error)
	CloseSession(s *session.Session)
	Stats() broker.Stats
	Ping(ctx context.Context) error
}

// Transport is an http.Handler serving the broker routes.
type Transport struct {
	broker Broker
	opts   options
	router *mux.Router
	limits *middleware.LimiterStore
}

// New builds the router for b.
func New(b Broker, opts ...Option) (*Transport, error) {
	if b == nil {
		return nil, errors.New("transport: broker is required")
	}

	o := options{
		logger:       logger.Discard(),
		burst:        DefaultRateBurst,
		maxBody:      DefaultMaxBodyBytes,
		sendBuffer:   DefaultSendBuffer,
		sseKeepAlive: DefaultSSEKeepAlive,
		sseRetry:     DefaultSSERetry,
		pongWait:     DefaultPongWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(logger.Component("transport"))

	t := &Transport{broker: b, opts: o}
	if o.rps > 0 {
		t.limits = middleware.NewLimiterStore(o.rps, o.burst, 0)
	}
	t.router = t.routes()

	return t, nil
}

func (t *Transport) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = t.adapt(func(*http.Request) handler.Response {
		return response.Error(response.ErrNotFound)
	})
	r.MethodNotAllowedHandler = t.adapt(func(*http.Request) handler.Response {
		return response.Error(response.ErrMethodNotAllowed)
	})
	r.Use(middleware.RequestID(), middleware.Logging(t.opts.logger))

	publish := middleware.BodyLimit(t.opts.maxBody)(t.adapt(t.publish))
	if t.limits != nil {
		publish = middleware.RateLimit(t.limits, nil)(publish)
	}
	r.Handle("/publish", publish).Methods(http.MethodPost)

	r.Handle("/subscribe", t.adapt(t.subscribeWS)).Methods(http.MethodGet)
	r.Handle("/subscribe/sse", t.adapt(t.subscribeSSE)).Methods(http.MethodGet)
	r.Handle("/stats", t.adapt(t.stats)).Methods(http.MethodGet)
	r.Handle("/health/live", t.adapt(health.Liveness)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/health/ready", t.adapt(health.Readiness(t.opts.logger, t.broker.Ping))).Methods(http.MethodGet, http.MethodHead)

	return r
}

func (t *Transport) adapt(fn handler.HandlerFunc) http.Handler {
	return handler.Adapt(fn, response.JSONErrorHandler)
}

// ServeHTTP implements http.Handler.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.router.ServeHTTP(w, r)
}

// Run evicts idle rate limiters until ctx is done. It is shaped for errgroup.Go.
func (t *Transport) Run(ctx context.Context) func() error {
	return func() error {
		if t.limits == nil {
			<-ctx.Done()
			return nil
		}
		t.limits.Run(ctx)
		return nil
	}
}

func (t *Transport) stats(*http.Request) handler.Response {
	return response.JSON(t.broker.Stats())
}
