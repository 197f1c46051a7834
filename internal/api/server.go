package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vibewatch/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Waker pokes the sync worker out of its idle sleep.
type Waker interface {
	Wake()
}

type ScopeRequest struct {
	ScopeType string `json:"scope_type"`
	SessionID string `json:"session_id"`
}

type AppDeps struct {
	Store  *storage.Store
	Syncer Waker // optional; if nil, scope changes are picked up on the next sync interval
}

// NewAppHandler returns the handler for the local management API. It binds to
// loopback only, so requests are not authenticated.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/stats", handleStats(deps))
	r.Get("/search", handleSearch(deps))
	r.Get("/events/unsynced", handleUnsyncedEvents(deps))
	r.Get("/sessions/{id}/events", handleSessionEvents(deps))
	r.Get("/scopes", handleListScopes(deps))
	r.Post("/scopes", handleAddScope(deps))
	r.Delete("/scopes/{id}", handleRemoveScope(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.GetStatistics()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get statistics: %v", err)
			return
		}
		files, err := deps.Store.TrackedFileCount()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count tracked files: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"total_events":   stats.TotalEvents,
			"total_sessions": stats.TotalSessions,
			"unsynced_count": stats.UnsyncedCount,
			"tracked_files":  files,
		})
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		results, err := deps.Store.Search(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if results == nil {
			results = []storage.SearchResult{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

func handleUnsyncedEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)

		events, err := deps.Store.GetUnsyncedEvents(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list unsynced events: %v", err)
			return
		}
		if events == nil {
			events = []storage.ConversationEvent{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func handleSessionEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		events, err := deps.Store.GetSessionEvents(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list session events: %v", err)
			return
		}
		if events == nil {
			events = []storage.ConversationEvent{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func handleListScopes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopes, err := deps.Store.ListSyncScopes()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list scopes: %v", err)
			return
		}
		if scopes == nil {
			scopes = []storage.SyncScope{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scopes)
	}
}

func handleAddScope(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ScopeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		scope, err := deps.Store.AddSyncScope(req.ScopeType, req.SessionID)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if deps.Syncer != nil {
			deps.Syncer.Wake()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(scope)
	}
}

func handleRemoveScope(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeactivateSyncScope(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "scope not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove scope: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
