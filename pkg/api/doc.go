// Package api exposes the billing gateway over HTTP.
//
// Routes live under /api/v1 and require a bearer token; billing routes additionally require
// the manager capability. The processor webhook at /api/v1/billing/webhook is authenticated
// by its signature instead.
//
// Errors use the {"detail": ...} envelope with statuses from StatusForKind, except the create
// endpoint which always answers 400 {"error": ...} and the raw processor retrieve which
// answers 500.
package api
