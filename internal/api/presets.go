package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"presets": s.presets.List(),
		"slots":   s.presets.Slots(),
	})
}

type presetRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleEditPreset(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "preset index must be an integer")
		return
	}

	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ok, err := s.presets.EditPresetEvent(r.Context(), index, req.Name)
	if !ok {
		writeNotFound(w, "preset index out of range")
		return
	}
	if err != nil {
		s.logger.Error("saving presets", "error", err)
		writeInternalError(w, "failed to save presets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": s.presets.List()})
}
