// Package server wires HTTP handlers into a ServeMux for the chat relay
// via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: the client page, the health check, and the WebSocket endpoint.
func SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ClientPageHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler)
	return mux
}
