// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/connections lists configured repository connections.
//   - POST /v1/jobs and /v1/jobs/standard for job submission.
//   - GET /v1/jobs/{id}/status, /result and /activity; POST /v1/jobs/{id}/cancel.
package api
