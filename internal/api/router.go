package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health and metrics need no token
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Read surface: any valid token
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{node}", s.handleGetDevice)
			r.Get("/devices/{node}/{endpoint}", s.handleGetEndpoint)
			r.Get("/devices/{node}/{endpoint}/clusters", s.handleDeviceClusters)
			r.Get("/devices/{node}/{endpoint}/clusters/{cluster}/attributes", s.handleClusterAttributes)

			r.Get("/datamodel/clusters", s.handleDataModelClusters)
			r.Get("/datamodel/devicetypes", s.handleDataModelDeviceTypes)

			// WebSocket sessions can dispatch commands, so the role
			// check happens per-message inside the session.
			r.Get("/ws", s.handleWebSocket)
		})

		// Control surface: admin token required
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.requireMutate)

			r.Post("/command", s.handleCommand)
			r.Post("/devices/register", s.handleRegisterDevice)
			r.Delete("/devices/{node}/{endpoint}", s.handleDeleteEndpoint)
			r.Post("/devices/{node}/{endpoint}/attributes/read", s.handleReadAttribute)
			r.Post("/devices/{node}/{endpoint}/attributes/write", s.handleWriteAttribute)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":  "healthy",
		"version": s.version,
		"devices": s.registry.GetDeviceCount(),
	}
	if s.notifier != nil {
		payload["websocket_clients"] = s.notifier.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleMetrics reports counters from the hub's moving parts.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"registry": s.registry.GetStats(),
		"dispatch": s.dispatcher.GetStats(),
	}
	if s.poller != nil {
		payload["polling"] = s.poller.GetStats()
	}
	if s.notifier != nil {
		payload["sessions"] = s.notifier.GetStats()
	}
	writeJSON(w, http.StatusOK, payload)
}
