package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/streamsight/streamsight/internal/config"
	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/service"
)

// ResultHistory serves persisted results for services the registry has
// already evicted. Optional; without it evicted services answer 404.
type ResultHistory interface {
	ResultsSince(ctx context.Context, serviceID string, sinceSeq uint64, limit int) ([]models.DetectionResult, error)
}

type Handlers struct {
	registry *service.Registry
	history  ResultHistory
}

func NewHandlers(registry *service.Registry, history ResultHistory) *Handlers {
	return &Handlers{registry: registry, history: history}
}

// Register wires all control-surface routes onto the router.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/services", h.CreateServiceHandler).Methods(http.MethodPost)
	r.HandleFunc("/services", h.ListServicesHandler).Methods(http.MethodGet)
	r.HandleFunc("/services/{service_id}", h.GetServiceStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/services/{service_id}/stop", h.StopServiceHandler).Methods(http.MethodPost)
	r.HandleFunc("/services/{service_id}/results", h.GetResultsHandler).Methods(http.MethodGet)
	r.HandleFunc("/services/{service_id}/results/latest", h.GetLatestResultHandler).Methods(http.MethodGet)
	r.HandleFunc("/services/{service_id}/subscribe", h.SubscribeHandler).Methods(http.MethodGet)
	r.HandleFunc("/devices", h.GetDevicesHandler).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var validation *config.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error()})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "service not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
