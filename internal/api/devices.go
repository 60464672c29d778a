package api

import "net/http"

// GetDevicesHandler reports the health and load of every pooled worker.
func (h *Handlers) GetDevicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Devices())
}
