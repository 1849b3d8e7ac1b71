package heartbeat

import (
	"log/slog"
	"time"
)

const (
	// DefaultInterval between heartbeats.
	DefaultInterval = 60 * time.Second
	// DefaultTopic carries broker heartbeats.
	DefaultTopic = "$sys.heartbeat"
	// DefaultShutdownTimeout bounds Stop waiting for an in-flight publish.
	DefaultShutdownTimeout = 5 * time.Second
)

// Config holds heartbeat settings loaded from the environment.
type Config struct {
	Enabled  bool          `env:"HEARTBEAT_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`
	Topic    string        `env:"HEARTBEAT_TOPIC" envDefault:"$sys.heartbeat"`
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval sets the period between heartbeats. Zero disables the worker;
// negative values are ignored.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.interval = d
		}
	}
}

// WithTopic overrides the heartbeat topic.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// WithEnabled turns the worker on or off.
func WithEnabled(enabled bool) Option {
	return func(w *Worker) {
		w.enabled = enabled
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for an in-flight publish.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// WithClock replaces the time source used for heartbeat payloads.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithTicker replaces the ticker factory. Used by tests to drive ticks manually.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(w *Worker) {
		if newTicker != nil {
			w.newTicker = newTicker
		}
	}
}
