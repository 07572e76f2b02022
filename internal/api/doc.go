// Package api implements the status HTTP API and WebSocket feed for the
// FindMy bridge.
//
// This package provides:
//   - Read-only endpoints for bridge health, tracked devices and zones
//   - POST /api/v1/sync to request a pass
//   - WebSocket hub broadcasting device.published and pass.completed events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Privacy
//
// With api.privacy enabled, coordinates and accuracy are omitted from
// every response and event. Zone names are still shown.
//
// # Graceful Degradation
//
// The server does not depend on the broker; it reports the MQTT link as
// disconnected and keeps serving the last known state.
package api
