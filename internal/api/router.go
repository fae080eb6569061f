package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pimonitor/pimonitor-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceRead))

				r.Get("/stats", s.handleStats)
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/devices/{id}/notifications", s.handleDrainNotifications)
				r.Get("/devices/{id}/history", s.handleDeviceHistory)
				r.Get("/presets", s.handleListPresets)
				r.Get(s.wsPath(), s.handleWebSocket)
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceOperate))

				r.Post("/devices/{id}/select", s.handleSelectDevice)

				r.Group(func(r chi.Router) {
					r.Use(s.rateLimitMiddleware)

					r.Post("/devices/{id}/recording:start", s.handleStartRecording)
					r.Post("/devices/{id}/recording:stop_and_save", s.handleStopAndSaveRecording)
					r.Post("/devices/{id}/recording:cancel", s.handleCancelRecording)
					r.Post("/devices/{id}/events", s.handleSendEvent)
				})
			})

			r.With(requirePermission(auth.PermPresetManage)).Put("/presets/{index}", s.handleEditPreset)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": s.registry.DeviceCount(),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	if s.influx != nil {
		resp["influxdb_connected"] = s.influx.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
