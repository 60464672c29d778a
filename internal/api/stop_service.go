package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// StopServiceHandler requests a graceful stop. Stopping a service that is
// already terminal succeeds without effect.
func (h *Handlers) StopServiceHandler(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["service_id"]

	if err := h.registry.Stop(serviceID); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.registry.Status(serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     serviceID,
		"status": info.Status,
	})
}
