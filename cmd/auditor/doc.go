// Package main hosts the site auditor entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and audit endpoints. POST /v1/audits is synchronous:
//     the handler waits until the audit reaches COMPLETED or FAILED and answers with the audit ID or a short reason.
//   - Admission pool: requests flow through a bounded in-memory queue sized by audit.queue_depth and are run by a
//     fixed worker pool sized by audit.concurrency. A full queue answers 503 instead of piling up browsers.
//   - Audit pipeline: internal/orchestrator fetches the page with Colly while two headless Chrome runs (mobile and
//     desktop) score it. The fetch is fatal; scorer failures only drop that profile's report. Markup is analyzed
//     with goquery and every link is probed with a bounded HEAD fan-out.
//   - Persistence & fanout: findings land in the configured repository (memory, Postgres, or SQLite) in one
//     transaction. Raw HTML is optionally archived to a blob store (memory/local/GCS) and a Pub/Sub notification
//     is published when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Each audit is bounded by audit.budget_seconds and runs detached from the HTTP request, so a client
//     disconnect never leaves an audit RUNNING.
//   - At startup audits that have been RUNNING longer than audit.stale_after_seconds are marked FAILED.
//   - The process reacts to SIGTERM: queued requests are rejected, in-flight audits finish, then the server stops.
//
// Quick checklist:
//   - Configure env vars: AUDITOR_SERVER_PORT or PORT, AUDITOR_AUDIT_CONCURRENCY, AUDITOR_STORAGE_DRIVER,
//     AUDITOR_DB_DSN, AUDITOR_SNAPSHOT_DRIVER, AUDITOR_PUBSUB_TOPIC_NAME, AUDITOR_HEADLESS_ENABLED.
//   - Serve: go run ./cmd/auditor -config config.yaml
//   - One-shot: go run ./cmd/auditor -audit https://example.com prints the stored report as JSON.
package main
