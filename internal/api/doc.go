// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tiles to queue a tile build.
//   - GET /v1/runs/{run_id} for build progress via the ProgressRepository
//     interface.
package api
