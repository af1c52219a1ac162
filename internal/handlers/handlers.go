// Package handlers implements the HTTP API over the cache orchestrator.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"cachetier/internal/cache"
	"cachetier/internal/common/errors"
	"cachetier/internal/common/logging"
	"cachetier/internal/store"
)

type Handlers struct {
	cache  *cache.Orchestrator
	logger logging.Logger
}

func New(c *cache.Orchestrator, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{cache: c, logger: logger}
}

// Router builds the mux router for the cache API.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/api/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/api/cache", h.ListKeys).Methods("GET")
	r.HandleFunc("/api/cache", h.Clear).Methods("DELETE")
	r.HandleFunc("/api/cache/{key}", h.GetEntry).Methods("GET")
	r.HandleFunc("/api/cache/{key}", h.PutEntry).Methods("PUT")
	r.HandleFunc("/api/cache/{key}", h.DeleteEntry).Methods("DELETE")
	return r
}

// putRequest is the body of PUT /api/cache/{key}. A zero TTL picks up the
// orchestrator default; -1 stores without expiry.
type putRequest struct {
	Value      interface{} `json:"value"`
	TTLSeconds int64       `json:"ttl_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps the cache error taxonomy to HTTP statuses.
func statusFor(err error) int {
	switch errors.GetKind(err) {
	case errors.KindConnection:
		return http.StatusServiceUnavailable
	case errors.KindUnsupported:
		return http.StatusNotImplemented
	case errors.KindSerialization:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("cache api request failed", err, logging.Field{Key: "op", Value: op})
	writeJSON(w, statusFor(err), map[string]interface{}{"error": err.Error()})
}

// GetEntry returns the value stored under a key, or 404 on a miss.
func (h *Handlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	val, found, err := h.cache.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "key not found", "key": key})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": val})
}

// PutEntry stores a value under a key.
func (h *Handlers) PutEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if req.TTLSeconds < 0 {
		ttl = store.NoExpiry
	}
	if err := h.cache.Set(r.Context(), key, req.Value, ttl); err != nil {
		h.writeError(w, "set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEntry removes a key; deleting an absent key is a no-op.
func (h *Handlers) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := h.cache.Delete(r.Context(), key); err != nil {
		h.writeError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListKeys lists keys matching the optional ?pattern= glob.
func (h *Handlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")

	keys, err := h.cache.Keys(r.Context(), pattern)
	if err != nil {
		h.writeError(w, "keys", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys, "count": len(keys)})
}

// Clear removes keys matching the optional ?pattern= glob, or everything
// in the namespace when no pattern is given.
func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")

	if err := h.cache.Clear(r.Context(), pattern); err != nil {
		h.writeError(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns the adapter's statistics snapshot.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health reports whether the underlying adapter is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cache.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}
