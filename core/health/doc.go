// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: Process is running (no dependency checks)
//   - Readiness: All dependencies are available
//   - NoContent: Returns 204 for minimal overhead
//
// Usage:
//
//	r.Handle("/health/live", handler.Adapt(health.Liveness, response.JSONErrorHandler))
//	r.Handle("/health/ready", handler.Adapt(health.Readiness(logger, broker.Ping), response.JSONErrorHandler))
//
// Dependency checks must follow func(context.Context) error signature.
package health
