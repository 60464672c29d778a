package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/service"
)

// historyLimit caps one page of persisted results.
const historyLimit = 1000

// GetResultsHandler polls buffered results. With since_seq set, only results
// with a higher frame sequence are returned, so callers can page forward
// without re-reading what they already saw.
func (h *Handlers) GetResultsHandler(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["service_id"]

	var sinceSeq uint64
	if raw := r.URL.Query().Get("since_seq"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since_seq must be a non-negative integer"})
			return
		}
		sinceSeq = v
	}

	results, err := h.registry.Results(serviceID, sinceSeq)
	if errors.Is(err, service.ErrNotFound) && h.history != nil {
		// The registry evicts terminal services after a grace period;
		// persisted results keep answering for them.
		stored, herr := h.history.ResultsSince(r.Context(), serviceID, sinceSeq, historyLimit)
		if herr != nil {
			writeError(w, herr)
			return
		}
		if len(stored) > 0 {
			results, err = stored, nil
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []models.DetectionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_id": serviceID,
		"results":    results,
	})
}

// GetLatestResultHandler returns the newest buffered result for a service,
// or 404 when nothing has been produced yet.
func (h *Handlers) GetLatestResultHandler(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["service_id"]

	latest, ok, err := h.registry.Latest(serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no results yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_id": serviceID,
		"result":     latest,
	})
}
