// Package api provides the HTTP surface of the lens relay.
//
// The api package exposes:
//   - GET /ws: WebSocket endpoint for hosts and web trackers
//   - GET /health: process liveness
//   - GET /api/stats: live session and connection counts
//   - GET /api/sessions: read-only session listing
//   - GET /api/sessions/{code}: one session by display code
//   - GET /metrics: Prometheus exposition
//
// Every endpoint except /ws is read-only and never changes session state.
// Session keys are ownership tokens and are never included in responses.
//
// Usage:
//
//	server := api.NewServer(manager, hub, m)
//	http.ListenAndServe(":8080", server)
package api
