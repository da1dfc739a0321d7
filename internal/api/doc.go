// Package api hosts the HTTP server, middleware, and REST handlers for the
// auditor. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/audits to run an audit synchronously.
//   - GET /v1/audits and /v1/audits/{audit_id} to read stored reports.
package api
