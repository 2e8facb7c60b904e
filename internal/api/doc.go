// Package api hosts the optional operator HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for live run counters.
package api
