// Package api hosts the status server that runs next to a crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the engine lifecycle state.
//   - GET /v1/items for the records collected so far.
package api
