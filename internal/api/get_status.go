package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetServiceStatusHandler returns the lifecycle state and runtime counters
// for one service.
func (h *Handlers) GetServiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["service_id"]

	info, err := h.registry.Status(serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) ListServicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}
