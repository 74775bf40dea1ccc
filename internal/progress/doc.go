// Package progress carries session progress from the runner and dispatcher to
// operators. Events are queued on a non-blocking Hub, batched on a background
// goroutine and fanned out to sinks: CLI output, structured logs, Prometheus
// collectors and the in-memory history served by the API.
package progress
