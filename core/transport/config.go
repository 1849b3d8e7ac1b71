package transport

import (
	"fmt"
	"time"
)

// Config holds HTTP transport settings loaded from the environment.
type Config struct {
	PublishRateLimit    float64       `env:"PUBLISH_RATE_LIMIT" envDefault:"0"`
	PublishRateBurst    int           `env:"PUBLISH_RATE_BURST" envDefault:"100"`
	PublishMaxBodyBytes int64         `env:"PUBLISH_MAX_BODY_BYTES" envDefault:"1048576"`
	AllowedOrigins      []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	SendBuffer          int           `env:"SUBSCRIBER_SEND_BUFFER" envDefault:"256"`
	SSEKeepAlive        time.Duration `env:"SSE_KEEPALIVE" envDefault:"15s"`
	SSERetry            time.Duration `env:"SSE_RETRY" envDefault:"3s"`
	PongWait            time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		PublishRateBurst:    DefaultRateBurst,
		PublishMaxBodyBytes: DefaultMaxBodyBytes,
		SendBuffer:          DefaultSendBuffer,
		SSEKeepAlive:        DefaultSSEKeepAlive,
		SSERetry:            DefaultSSERetry,
		PongWait:            DefaultPongWait,
	}
}

// NewFromConfig creates a Transport from configuration. Options override config values.
func NewFromConfig(b Broker, cfg Config, opts ...Option) (*Transport, error) {
	if cfg.PublishRateLimit < 0 {
		return nil, fmt.Errorf("transport config: negative publish rate limit %v", cfg.PublishRateLimit)
	}
	if cfg.PublishMaxBodyBytes < 0 {
		return nil, fmt.Errorf("transport config: negative body limit %d", cfg.PublishMaxBodyBytes)
	}

	all := append([]Option{
		WithRateLimit(cfg.PublishRateLimit, cfg.PublishRateBurst),
		WithMaxBodyBytes(cfg.PublishMaxBodyBytes),
		WithAllowedOrigins(cfg.AllowedOrigins...),
		WithSendBuffer(cfg.SendBuffer),
		WithSSEKeepAlive(cfg.SSEKeepAlive),
		WithSSERetry(cfg.SSERetry),
		WithPongWait(cfg.PongWait),
	}, opts...)

	return New(b, all...)
}
