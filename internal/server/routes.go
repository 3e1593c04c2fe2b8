// Package server wires HTTP handlers into a ServeMux for the ChatNet
// application.
package server

import "net/http"

// Handler returns the ServeMux with every application route.
func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", HealthHandler)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/test", TestPageHandler)

	mux.HandleFunc("GET /api/usage", s.authenticated(s.handleUsage))
	mux.HandleFunc("GET /api/usage/me", s.authenticated(s.handleUsageMe))
	mux.HandleFunc("GET /api/usage/{userId}", s.authenticated(s.handleUsageByUser))

	mux.HandleFunc("GET /api/chat/messages", s.authenticated(s.handleListMessages))
	mux.HandleFunc("POST /api/chat/messages", s.authenticated(s.handleCreateMessage))
	mux.HandleFunc("DELETE /api/chat/messages/{messageId}", s.authenticated(s.handleDeleteMessage))

	mux.HandleFunc("GET /api/users/active", s.authenticated(s.handleActiveUsers))
	return mux
}
