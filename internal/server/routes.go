// Package server wires HTTP handlers into a ServeMux for the chat service.
package server

import "net/http"

// Routes returns the HTTP handler with all application routes: the
// websocket endpoint, the REST API, health checks, metrics and the test page.
func (s *Server) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/rooms/{roomID}/messages", s.apiListMessages)
	api.HandleFunc("POST /api/messages", s.apiCreateMessage)
	api.HandleFunc("PUT /api/messages/{messageID}", s.apiEditMessage)
	api.HandleFunc("DELETE /api/messages/{messageID}", s.apiDeleteMessage)

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	mux.HandleFunc("GET /api/health", s.apiHealth)
	mux.Handle("/api/", s.limiter.middleware(s.log, api))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}
