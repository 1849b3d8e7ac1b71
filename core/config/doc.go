// Package config loads environment variables into typed structs.
//
// The first Load reads a .env file from the working directory if one exists,
// then parses the target with caarlos0/env. Variables already set in the
// process environment win over the file. Each struct type is parsed once and
// the result cached, so later loads of the same type return the first value.
//
// Component packages declare their own Config structs and the binary composes
// them:
//
//	type Config struct {
//		LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
//
//		Broker    broker.Config    // RETENTION_WINDOW, SUBSCRIBER_QUEUE_SIZE, ...
//		Heartbeat heartbeat.Config // HEARTBEAT_ENABLED, HEARTBEAT_INTERVAL
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg) // panics on a malformed value
//
//	b, err := broker.NewFromConfig(cfg.Broker)
//
// Nested structs without a prefix share the flat variable namespace.
//
// # Tests
//
// The cache outlives a single test. Call Reset before loading in tests that
// set variables with t.Setenv, and do not run them in parallel:
//
//	config.Reset()
//	t.Cleanup(config.Reset)
//	t.Setenv("RETENTION_WINDOW", "250ms")
package config
