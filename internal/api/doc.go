// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/targets for tracking, checking, history, snapshots, and stats.
//   - /v1/jobs for job submission, cancellation, and live progress of watched jobs.
package api
