// Package api hosts the HTTP control service for download sessions.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources lists the supported newspapers.
//   - POST /v1/sessions queues a session; GET lists them.
//   - GET /v1/sessions/{id}, POST /v1/sessions/{id}/cancel and
//     GET /v1/sessions/{id}/log inspect or stop one session.
package api
