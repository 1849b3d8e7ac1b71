// Package server wraps http.Server with graceful shutdown, env-driven
// configuration and an errgroup-friendly Run method.
//
//	srv, err := server.NewFromConfig(cfg, server.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	g.Go(srv.Run(ctx, router))
//
// When shutdown begins every request context is canceled, so long-lived
// streaming handlers that watch r.Context() return promptly. Hijacked
// connections (WebSocket) are not tracked by http.Server and must watch the
// same context.
//
// Defaults:
//
//   - ReadTimeout: 15 seconds
//   - WriteTimeout: 15 seconds
//   - IdleTimeout: 60 seconds
//   - MaxHeaderBytes: 1MB
//   - Graceful shutdown timeout: 30 seconds
package server
