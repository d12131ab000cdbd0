// Package main hosts the pagewatch service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, tracked target management, and job endpoints.
//     Requests are validated before they reach the change monitor or the job monitor.
//   - Change monitor: tracked URLs are fetched through the Colly or Chromedp fetcher behind a per-host rate limiter,
//     fingerprinted with SHA-256, and compared with the previous fingerprint. Changes carry a unified diff and are
//     published to Pub/Sub when a topic is configured.
//   - Persistence: every tracked target is saved after each check to the configured backend (memory, local files,
//     GCS, Postgres, or Redis) and restored at startup.
//   - Jobs: crawl and batch jobs go either to the hosted scraping API or to the local queue, dispatcher, and worker
//     pool. The job monitor polls status, deduplicates documents, and reports progress to the event hub.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported at /metrics; OpenTelemetry spans are emitted when telemetry.enabled is set.
//
// Operational notes:
//   - Set monitor.run_on_serve to check every tracked URL each monitor.cycle_interval while serving.
//   - The process reacts to SIGINT and SIGTERM by draining HTTP requests, stopping workers, and flushing events.
//
// Quick checklist:
//   - Configure env vars: PAGEWATCH_SERVER_PORT, PAGEWATCH_STORAGE_BACKEND, PAGEWATCH_JOBS_BACKEND,
//     PAGEWATCH_JOBS_API_KEY (http job backend), PAGEWATCH_AUTH_API_KEY (when auth.enabled).
//   - Run locally: go run ./cmd/pagewatchd -config config.yaml (or rely solely on env overrides).
package main
