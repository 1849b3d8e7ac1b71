// Package logger builds slog loggers and provides attribute helpers used across
// the broker.
//
// Construct a logger once in main and pass it down through options:
//
//	log := logger.New(
//		logger.WithProduction("tailbus"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("message published",
//		logger.Component("broker"),
//		logger.Topic(entry.Topic()),
//		logger.Sequence(uint64(entry.Sequence)),
//	)
//
// Attribute helpers return an empty slog.Attr for nil or empty input, so
// log.Warn("feed closed", logger.Error(err)) needs no nil check.
//
// Request-scoped values can be attached automatically:
//
//	log := logger.New(logger.WithContextValue("request_id", requestIDKey{}))
//	log.InfoContext(ctx, "publish accepted") // includes request_id
package logger
