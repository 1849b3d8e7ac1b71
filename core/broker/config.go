package broker

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/retention"
)

// Config holds broker settings loaded from the environment.
type Config struct {
	RetentionWindow         time.Duration `env:"RETENTION_WINDOW" envDefault:"5s"`
	RetentionMaxEntries     int           `env:"RETENTION_MAX_ENTRIES" envDefault:"100000"`
	RetentionCapacityPolicy string        `env:"RETENTION_CAPACITY_POLICY" envDefault:"drop_oldest"`
	SubscriberQueueSize     int           `env:"SUBSCRIBER_QUEUE_SIZE" envDefault:"1024"`
	SubscriberOverflow      string        `env:"SUBSCRIBER_OVERFLOW_POLICY" envDefault:"disconnect"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		RetentionWindow:         DefaultRetentionWindow,
		RetentionMaxEntries:     retention.DefaultMaxEntries,
		RetentionCapacityPolicy: retention.PolicyDropOldest.String(),
		SubscriberQueueSize:     dispatch.DefaultQueueSize,
		SubscriberOverflow:      dispatch.Disconnect.String(),
	}
}

// NewFromConfig creates a Broker from configuration. Options override config values.
func NewFromConfig(cfg Config, opts ...Option) (*Broker, error) {
	capPolicy, err := retention.ParseCapacityPolicy(cfg.RetentionCapacityPolicy)
	if err != nil {
		return nil, fmt.Errorf("broker config: %w", err)
	}
	overflow, err := dispatch.ParseOverflowPolicy(cfg.SubscriberOverflow)
	if err != nil {
		return nil, fmt.Errorf("broker config: %w", err)
	}
	if cfg.RetentionWindow < 0 {
		return nil, fmt.Errorf("broker config: negative retention window %s", cfg.RetentionWindow)
	}

	all := append([]Option{
		WithRetentionWindow(cfg.RetentionWindow),
		WithMaxRetained(cfg.RetentionMaxEntries),
		WithRetentionPolicy(capPolicy),
		WithQueueSize(cfg.SubscriberQueueSize),
		WithOverflowPolicy(overflow),
	}, opts...)

	return New(all...), nil
}
