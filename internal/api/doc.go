// Package api hosts the HTTP server, middleware, and REST handlers for the
// tracker. Notable routes:
//   - POST/GET /characters to register and list tracked characters.
//   - GET/DELETE /characters/{id}, GET /characters/{id}/history and
//     POST /characters/{id}/update for one character.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
