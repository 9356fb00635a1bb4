// Package api hosts the HTTP server, middleware, and REST handlers for clone
// runs. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/clones to submit a run; it executes on the worker pool.
//   - GET /v1/clones, GET|DELETE /v1/clones/{id} and
//     GET /v1/clones/{id}/document to inspect results.
package api
