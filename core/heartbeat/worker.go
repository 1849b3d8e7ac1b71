// Package heartbeat periodically publishes a liveness message through the broker's
// regular publish path, so subscribers to the heartbeat topic can tell an idle
// broker from a dead connection.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
)

// Publisher is the publish path heartbeats go through. *broker.Broker implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (message.Entry, error)
}

// Ticker abstracts time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Payload is the JSON body of a heartbeat message.
type Payload struct {
	Time  time.Time `json:"time"`
	Count uint64    `json:"count"`
}

// Worker publishes heartbeats on a fixed interval until stopped.
type Worker struct {
	publisher       Publisher
	interval        time.Duration
	topic           string
	enabled         bool
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
	newTicker       func(time.Duration) Ticker

	mu      sync.Mutex
	cancel  context.CancelFunc
	exited  chan struct{}
	running atomic.Bool

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Stats reports worker counters.
type Stats struct {
	Sent      uint64
	Failed    uint64
	IsRunning bool
}

// New creates a Worker. It does not start ticking until Start or Run.
func New(publisher Publisher, opts ...Option) (*Worker, error) {
	if publisher == nil {
		return nil, ErrPublisherNil
	}

	w := &Worker{
		publisher:       publisher,
		interval:        DefaultInterval,
		topic:           DefaultTopic,
		enabled:         true,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logger.Discard(),
		now:             time.Now,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// NewFromConfig creates a Worker from configuration. Options override config values.
func NewFromConfig(cfg Config, publisher Publisher, opts ...Option) (*Worker, error) {
	all := append([]Option{
		WithEnabled(cfg.Enabled),
		WithInterval(cfg.Interval),
		WithTopic(cfg.Topic),
	}, opts...)
	return New(publisher, all...)
}

// Enabled reports whether the worker will publish anything.
func (w *Worker) Enabled() bool { return w.enabled && w.interval > 0 }

// Topic returns the heartbeat topic.
func (w *Worker) Topic() string { return w.topic }

// Start publishes heartbeats until ctx is cancelled or Stop is called. It blocks.
// A disabled worker just waits for cancellation.
func (w *Worker) Start(ctx context.Context) error {
	ctx, exited, err := w.begin(ctx)
	if err != nil {
		return err
	}
	return w.loop(ctx, exited)
}

func (w *Worker) begin(ctx context.Context) (context.Context, chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil, nil, ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.exited = make(chan struct{})
	w.running.Store(true)
	return ctx, w.exited, nil
}

func (w *Worker) loop(ctx context.Context, exited chan struct{}) error {
	defer func() {
		w.running.Store(false)
		close(exited)
	}()

	if !w.Enabled() {
		w.logger.InfoContext(ctx, "heartbeat disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := w.newTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "heartbeat started",
		logger.Topic(w.topic),
		slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(context.Background(), "heartbeat stopping")
			return ctx.Err()
		case <-ticker.C():
			w.beat(ctx)
		}
	}
}

// Stop cancels a running worker and waits for an in-flight publish, up to the
// shutdown timeout. No tick starts after Stop returns.
func (w *Worker) Stop() error {
	exited, err := w.halt()
	if err != nil {
		return err
	}

	select {
	case <-exited:
		return nil
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("heartbeat shutdown timeout exceeded", slog.Duration("timeout", w.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", w.shutdownTimeout)
	}
}

// Done is closed when the loop started by Start or Run has exited.
// It is nil before the first start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exited
}

// halt cancels the loop without waiting for it.
func (w *Worker) halt() (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return nil, ErrNotStarted
	}
	w.cancel()
	w.cancel = nil
	return w.exited, nil
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Cancelling ctx returns at once; an in-flight publish sees the cancelled
// context and finishes in the background. Use Done to wait for it.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		loopCtx, exited, err := w.begin(ctx)
		if err != nil {
			return err
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.loop(loopCtx, exited)
		}()

		select {
		case <-ctx.Done():
			_, _ = w.halt()
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stats returns a point-in-time copy of the counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Sent:      w.sent.Load(),
		Failed:    w.failed.Load(),
		IsRunning: w.running.Load(),
	}
}

func (w *Worker) beat(ctx context.Context) {
	n := w.sent.Load() + 1
	payload, err := json.Marshal(Payload{Time: w.now().UTC(), Count: n})
	if err != nil {
		w.failed.Add(1)
		w.logger.ErrorContext(ctx, "heartbeat encode failed", logger.Error(err))
		return
	}

	e, err := w.publisher.Publish(ctx, w.topic, payload)
	if err != nil {
		if ctx.Err() == nil {
			w.failed.Add(1)
			w.logger.WarnContext(ctx, "heartbeat publish failed", logger.Error(err))
		}
		return
	}
	w.sent.Add(1)
	w.logger.DebugContext(ctx, "heartbeat published", logger.Sequence(uint64(e.Sequence)))
}
