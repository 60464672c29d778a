package api

import (
	"encoding/json"
	"net/http"

	"github.com/streamsight/streamsight/internal/models"
)

type createServiceRequest struct {
	Stream    models.StreamConfig     `json:"stream"`
	Detection *models.DetectionConfig `json:"detection,omitempty"`
}

// CreateServiceHandler starts a detection service for a stream. The id is
// returned right away; the service connects asynchronously.
func (h *Handlers) CreateServiceHandler(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	id, err := h.registry.Start(req.Stream, req.Detection)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": models.StatusStarting,
	})
}
