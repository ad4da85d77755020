// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/calendars?id=... loads an external calendar through the registry.
//   - GET /v1/calendars/updates?id=... asks whether a cached calendar changed.
//   - GET and DELETE /v1/cache report or clear the calendar cache.
//   - GET, POST and DELETE /v1/sources manage configured sources.
package api
