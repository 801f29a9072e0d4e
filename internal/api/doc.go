// Package api hosts the gateway's HTTP server. Notable routes:
//   - POST /api/v1/scrape and /api/v1/scrape-js relay a scrape to an idle agent.
//   - GET /api/v1/agents lists the pool; POST /api/v1/agents/restart starts a
//     rolling restart cycle.
//   - GET /healthz, /readyz and /metrics are unauthenticated.
//
// Every route under /api/v1 requires the shared secret in the API_KEY header.
package api
