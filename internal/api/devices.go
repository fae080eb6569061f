package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pimonitor/pimonitor-core/internal/piapi"
)

// hostIDParam returns the {id} route parameter, unescaped so that
// "%5Bfe80%3A%3A1%5D%3A9000" and "[fe80::1]:9000" address the same device.
func hostIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.ListDevices()
	resp := map[string]any{
		"devices": devices,
		"count":   len(devices),
	}
	if active, ok := s.registry.ActiveDevice(); ok {
		resp["active_host_id"] = active.HostID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDevice(hostIDParam(r))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	hostID := hostIDParam(r)
	if !s.registry.SetActiveDevice(hostID) {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_host_id": hostID})
}

func (s *Server) handleDrainNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.registry.DrainNotifications(hostIDParam(r))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "recording history is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), hostIDParam(r), limit)
	if err != nil {
		s.logger.Error("reading recording history", "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

type recordingAction func(ctx context.Context, hostID string) (piapi.Recording, error)

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request, run recordingAction) {
	rec, err := run(r.Context(), hostIDParam(r))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": rec})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	s.handleRecording(w, r, s.actions.StartRecording)
}

func (s *Server) handleStopAndSaveRecording(w http.ResponseWriter, r *http.Request) {
	s.handleRecording(w, r, s.actions.StopAndSaveRecording)
}

func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	s.handleRecording(w, r, s.actions.CancelRecording)
}

type eventRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ev, err := s.actions.TriggerEvent(r.Context(), hostIDParam(r), req.Name)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev})
}
