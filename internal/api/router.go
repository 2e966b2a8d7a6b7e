package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/registrations", s.handleListRegistrations)

		r.Route("/states", func(r chi.Router) {
			r.Get("/", s.handleListStates)
			r.Get("/history", s.handleStateHistory)
		})

		r.Get("/lines", s.handleListLines)
		r.Get("/actuators", s.handleGetActuators)

		r.Get(wsPath(s.wsCfg.Path), s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         s.version,
		"controller_id":   fmt.Sprintf("0x%02X", s.registry.GetControllerID()),
		"controller_uuid": s.registry.ControllerUUID().String(),
		"ws_clients":      s.hub.ClientCount(),
	})
}

// wsPath returns the WebSocket route, defaulting to /ws.
func wsPath(p string) string {
	if p == "" {
		return "/ws"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}
