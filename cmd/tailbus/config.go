package main

import (
	"log/slog"
	"os"

	"github.com/dmitrymomot/tailbus/core/broker"
	"github.com/dmitrymomot/tailbus/core/heartbeat"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/server"
	"github.com/dmitrymomot/tailbus/core/transport"
	"github.com/dmitrymomot/tailbus/middleware"
)

// Config is the process configuration. Nested configs read their own variables.
type Config struct {
	AppName      string `env:"APP_NAME" envDefault:"tailbus"`
	DebugLogging bool   `env:"DEBUG_LOGGING" envDefault:"false"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`

	Broker    broker.Config
	Heartbeat heartbeat.Config
	Server    server.Config
	Transport transport.Config
}

func newLogger(cfg Config) *slog.Logger {
	opts := []logger.Option{
		logger.WithOutput(os.Stdout),
		logger.WithAttr(slog.String("service", cfg.AppName)),
		logger.WithContextExtractors(middleware.RequestIDExtractor),
	}
	switch cfg.LogFormat {
	case "json":
		opts = append(opts, logger.WithJSONFormatter())
	default:
		opts = append(opts, logger.WithTextFormatter())
	}
	if cfg.DebugLogging {
		opts = append(opts, logger.WithLevel(slog.LevelDebug))
	}
	return logger.New(opts...)
}
