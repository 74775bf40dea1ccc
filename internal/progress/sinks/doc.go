// Package sinks implements the progress consumers: operator output, structured
// logs, Prometheus collectors and a bounded in-memory history per session.
package sinks
