// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl for a synchronous run, POST /v1/jobs to enqueue one.
//   - GET /v1/jobs/{job_id} for job status and results.
//   - GET and DELETE /v1/watermark, GET /v1/items?job= via QueryHandler.
package api
