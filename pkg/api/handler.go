// Package api exposes the read-only HTTP surface of the dispatch engine:
// task status lookups, worker pool state, health, and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/metrics"
	"github.com/yzhou-ml/comfyfleet/pkg/statusstore"
	"github.com/yzhou-ml/comfyfleet/pkg/workerpool"
)

// TaskResponse represents one task record in API responses.
type TaskResponse struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
	Data      map[string]any `json:"data,omitempty"`
}

// WorkersResponse lists the pool's healthy endpoints.
type WorkersResponse struct {
	Healthy int      `json:"healthy"`
	Workers []string `json:"workers"`
}

// Handler serves the engine's HTTP API.
type Handler struct {
	store statusstore.Store
	pool  *workerpool.Pool
	met   *metrics.Metrics
	log   *logging.Logger
}

// NewHandler creates an API handler. Pool and metrics may be nil when the
// server runs status-lookup only.
func NewHandler(store statusstore.Store, pool *workerpool.Pool, met *metrics.Metrics, log *logging.Logger) *Handler {
	return &Handler{store: store, pool: pool, met: met, log: log}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")
	r.HandleFunc("/tasks/{id}", h.HandleGetTask).Methods("GET")
	if h.pool != nil {
		r.HandleFunc("/workers", h.HandleWorkers).Methods("GET")
	}
	if h.met != nil {
		r.Handle("/metrics", h.met.Handler()).Methods("GET")
	}
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleGetTask returns the stored record for one task id.
func (h *Handler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := h.store.GetStatus(r.Context(), id)
	if err != nil {
		h.log.Error("status lookup failed", map[string]any{"task_id": id, "error": err.Error()})
		http.Error(w, "status store unavailable", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, TaskResponse{
		ID:        id,
		Status:    string(record.Status),
		UpdatedAt: record.UpdatedAt,
		Data:      record.Data,
	})
}

// HandleWorkers reports the current healthy worker set.
func (h *Handler) HandleWorkers(w http.ResponseWriter, r *http.Request) {
	healthy := h.pool.Healthy()
	resp := WorkersResponse{Healthy: len(healthy), Workers: make([]string, 0, len(healthy))}
	for _, ep := range healthy {
		resp.Workers = append(resp.Workers, ep.URL)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
