// Package api holds the wire types of the ALCS HTTP API.
//
// # API Overview
//
// The API drives the generator/critic loop:
//   - POST /v1/tasks submits a task and, unless ?async=true, waits for the
//     session to converge, escalate or fail
//   - /v1/sessions lists, reads and deletes sessions and their artifacts
//   - POST /v1/sessions/{id}/escalation resolves an escalated session
//   - POST /v1/sessions/{id}/ack acknowledges a converged or failed outcome
//   - GET /v1/sessions/{id}/events streams session events over a websocket
//   - /v1/backends reports and switches the generator and critic backends
//   - /health, /healthz and /ready report service health
//
// Every JSON response uses the envelope
//
//	{"success": bool, "data": ..., "error": {"code", "message", "retryable"},
//	 "timestamp": ..., "request_id": ...}
//
// # Authentication
//
// When API keys are configured, /v1 endpoints require the X-API-Key header.
// When a JWT secret is configured they accept "Authorization: Bearer <token>"
// instead.
//
// # Generating Documentation
//
// Handlers carry swag annotations:
//
//	swag init -g cmd/alcs/main.go -o api --parseDependency --parseInternal
package api
