// Package api hosts the HTTP server, middleware, and handlers of the image
// service. Notable routes:
//   - GET /large and GET /user_card render artifacts through the headless
//     browser; /_/generator/user_card is kept as an alias.
//   - GET /_/template/{page} serves the HTML pages the browser captures.
//   - GET /thumb/... resolves music artwork.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
