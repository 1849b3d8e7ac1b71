package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/tailbus/core/broker"
	"github.com/dmitrymomot/tailbus/core/config"
	"github.com/dmitrymomot/tailbus/core/heartbeat"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/server"
	"github.com/dmitrymomot/tailbus/core/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	config.MustLoad(&cfg) // panic on error

	log := newLogger(cfg)

	b, err := broker.NewFromConfig(cfg.Broker, broker.WithLogger(log))
	if err != nil {
		log.Error("Failed to create broker", logger.Component("broker"), logger.Error(err))
		os.Exit(1)
	}

	hb, err := heartbeat.NewFromConfig(cfg.Heartbeat, b, heartbeat.WithLogger(log.With(logger.Component("heartbeat"))))
	if err != nil {
		log.Error("Failed to create heartbeat worker", logger.Component("heartbeat"), logger.Error(err))
		os.Exit(1)
	}

	tr, err := transport.NewFromConfig(b, cfg.Transport, transport.WithLogger(log))
	if err != nil {
		log.Error("Failed to create transport", logger.Component("transport"), logger.Error(err))
		os.Exit(1)
	}

	s, err := server.NewFromConfig(cfg.Server, server.WithLogger(log.With(logger.Component("server"))))
	if err != nil {
		log.Error("Failed to create server", logger.Component("server"), logger.Error(err))
		os.Exit(1)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(s.Run(ctx, tr))
	eg.Go(hb.Run(ctx))
	eg.Go(tr.Run(ctx))

	err = eg.Wait()

	// Every producer has stopped by now; closing drops the remaining sessions.
	_ = b.Close()

	if err != nil {
		log.Error("Failed to run server", logger.Component("server"), logger.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped")
}
