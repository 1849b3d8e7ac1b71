// Package transport exposes a broker over HTTP.
//
// Routes:
//
//	POST /publish          {"topic":"orders.created","payload":{...}} -> 202
//	GET  /subscribe        WebSocket; subscribe/unsubscribe with JSON control frames
//	GET  /subscribe/sse    Server-Sent Events for the patterns in the query
//	GET  /stats            broker counters
//	GET  /health/live      liveness
//	GET  /health/ready     readiness (fails once the broker is closed)
//
// Every subscription first replays the retained entries matching its pattern
// and then tails new publishes. Sequences are sent as decimal strings because
// they do not fit in a JavaScript number. A client resumes after a known
// sequence with the after query parameter, the after field of a subscribe
// frame, or the Last-Event-ID header for SSE.
//
// Publishing to the reserved $sys. namespace is refused; those topics carry
// broker-generated messages such as heartbeats.
package transport
