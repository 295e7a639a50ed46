/*
Package types holds the error taxonomy shared by every ALCS package.

It imports nothing from the rest of the module so that the orchestrator,
the stores, the backends and the HTTP layer can all agree on one error
shape without import cycles.

# Error codes

  - VALIDATION_ERROR: malformed caller input, rejected before any session state exists
  - NOT_FOUND: unknown session or artifact id
  - ENDPOINT_UNAVAILABLE: retry ceiling exhausted; the session fails
  - FEEDBACK_PARSE: critic output not well-formed; always recovered locally
  - ESCALATION_CONSTRUCTION: escalation requested with no code artifact; always propagated
  - INVALID_TRANSITION: state change outside the session transition table
  - SESSION_BUSY: another request holds the session
  - BACKEND_UNHEALTHY: health probe failed during a backend swap
  - UNAUTHORIZED: missing or invalid API key or JWT
  - RATE_LIMITED: per-client request rate exceeded
  - INTERNAL_ERROR: everything else
*/
package types
