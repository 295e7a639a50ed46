package handlers

import "net/http"

// RegisterRoutes mounts the /v1 API on mux. A nil handler skips its routes.
func RegisterRoutes(mux *http.ServeMux, sessions *SessionHandler, backends *BackendHandler, events *EventStreamHandler) {
	if sessions != nil {
		mux.HandleFunc("POST /v1/tasks", sessions.HandleStartTask)
		mux.HandleFunc("GET /v1/sessions", sessions.HandleListSessions)
		mux.HandleFunc("GET /v1/sessions/{id}", sessions.HandleGetSession)
		mux.HandleFunc("DELETE /v1/sessions/{id}", sessions.HandleDeleteSession)
		mux.HandleFunc("GET /v1/sessions/{id}/artifacts", sessions.HandleListArtifacts)
		mux.HandleFunc("GET /v1/sessions/{id}/artifacts/{artifactID}", sessions.HandleGetArtifact)
		mux.HandleFunc("POST /v1/sessions/{id}/escalation", sessions.HandleResolveEscalation)
		mux.HandleFunc("POST /v1/sessions/{id}/ack", sessions.HandleAcknowledge)
	}
	if events != nil {
		mux.HandleFunc("GET /v1/sessions/{id}/events", events.HandleEvents)
	}
	if backends != nil {
		mux.HandleFunc("GET /v1/backends", backends.HandleListBackends)
		mux.HandleFunc("PUT /v1/backends/{role}", backends.HandleSwitchBackend)
	}
}
