package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

// StatusSource provides the live run status
type StatusSource interface {
	Snapshot() models.RunStatus
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	source StatusSource
}

// NewHandler creates a new HTTP handler
func NewHandler(source StatusSource) *Handler {
	return &Handler{
		source: source,
	}
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK")) //nolint:errcheck
}

// GetRun handles GET /v1/run
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

// ListWorkers handles GET /v1/run/workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot().Workers)
}

// GetWorker handles GET /v1/run/workers/{index}
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "Invalid worker index", http.StatusBadRequest)
		return
	}

	for _, worker := range h.source.Snapshot().Workers {
		if worker.Index == index {
			writeJSON(w, http.StatusOK, worker)
			return
		}
	}
	http.Error(w, "Worker not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
