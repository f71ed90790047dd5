// Package httpapi exposes the admin HTTP surface over hamasterd's Core,
// grounded on the teacher daemon's internal/handlers: gorilla/mux routing,
// a small respondJSON/respondError helper pair, and a gorilla/websocket
// event hub for live monitoring.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hamasterd/internal/config"
	"hamasterd/internal/core"
)

// Handler wires every admin route to a Core.
type Handler struct {
	core *core.Core
	hub  *EventHub
}

// New constructs the admin HTTP handler; Router starts its websocket event
// hub.
func New(c *core.Core) *Handler {
	return &Handler{core: c, hub: NewEventHub()}
}

// Router builds the gorilla/mux router for this handler (spec.md §4.5 /
// §9 external interfaces).
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/admin-info", h.AdminInfo).Methods("GET")
	r.HandleFunc("/nodes", h.Nodes).Methods("GET")
	r.HandleFunc("/processes", h.Processes).Methods("GET")
	r.HandleFunc("/ping-hosts", h.PingHosts).Methods("GET")

	admin := r.NewRoute().Subrouter()
	admin.Use(h.eligibilityMiddleware)
	admin.HandleFunc("/activate", h.Activate).Methods("POST")
	admin.HandleFunc("/deactivate/prepare", h.DeactivatePrepare).Methods("POST")
	admin.HandleFunc("/deactivate/finalize", h.DeactivateFinalize).Methods("POST")
	admin.HandleFunc("/reload", h.Reload).Methods("POST")
	admin.HandleFunc("/demote", h.Demote).Methods("POST")
	admin.HandleFunc("/deregister", h.Deregister).Methods("POST")
	admin.HandleFunc("/util-process/start", h.UtilProcessStart).Methods("POST")

	r.HandleFunc("/ws/events", h.ServeEvents)

	h.hub.Run(h.core.EventLog)
	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		_ = time.Since(start)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{"success": false, "error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	respondJSON(w, status, body)
}

// Health is a liveness probe, independent of cluster/resource state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AdminInfo returns a composite snapshot: self role, master, isolation, and
// recent event-log history (spec.md §9's admin query set).
func (h *Handler) AdminInfo(w http.ResponseWriter, r *http.Request) {
	self := h.core.ClusterState.Self()
	master, hasMaster := h.core.ClusterState.Master()
	recent, err := h.core.EventLog.Recent(50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read event log", err)
		return
	}

	info := map[string]interface{}{
		"success":    true,
		"self":       self,
		"isolated":   h.core.ClusterState.IsIsolated(),
		"shutdown":   h.core.ClusterState.IsShutdown(),
		"has_master": hasMaster,
		"events":     recent,
	}
	if hasMaster {
		info["master"] = master
	}
	respondJSON(w, http.StatusOK, info)
}

// Nodes returns every roster entry, including self.
func (h *Handler) Nodes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"nodes":   h.core.ClusterState.All(),
	})
}

// Processes returns every resource-supervisor roster entry.
func (h *Handler) Processes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"processes": h.core.ResourceState.All(),
	})
}

// PingHosts returns every configured ping-host's last probe result.
func (h *Handler) PingHosts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"hosts":   h.core.ClusterState.PingHosts(),
	})
}

// Activate handles POST /activate (spec.md §4.5).
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Activate(); err != nil {
		respondError(w, http.StatusInternalServerError, "activate failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DeactivatePrepare handles POST /deactivate/prepare.
func (h *Handler) DeactivatePrepare(w http.ResponseWriter, r *http.Request) {
	h.core.DeactivatePrepare()
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DeactivateFinalize handles POST /deactivate/finalize. Returns 409 if the
// deactivation-ready gate has not yet been met (spec.md §4.5).
func (h *Handler) DeactivateFinalize(w http.ResponseWriter, r *http.Request) {
	if !h.core.DeactivateFinalize() {
		respondError(w, http.StatusConflict, "deactivation not ready: a process connection is still open", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Reload handles POST /reload: re-reads the YAML config at the given path
// and applies it in place.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigPath string `json:"config_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfigPath == "" {
		respondError(w, http.StatusBadRequest, "config_path is required", err)
		return
	}
	cfg, err := config.Load(req.ConfigPath)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to load config", err)
		return
	}
	if err := h.core.Reload(cfg); err != nil {
		respondError(w, http.StatusInternalServerError, "reload failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Demote handles POST /demote: administrator-initiated DEMOTE.
func (h *Handler) Demote(w http.ResponseWriter, r *http.Request) {
	h.core.Demote()
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Deregister handles POST /deregister: { "argv": "..." }.
func (h *Handler) Deregister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Argv string `json:"argv"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Argv == "" {
		respondError(w, http.StatusBadRequest, "argv is required", err)
		return
	}
	if err := h.core.Deregister(req.Argv); err != nil {
		respondError(w, http.StatusNotFound, "deregister failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// UtilProcessStart handles POST /util-process/start: runs a short one-shot
// administrative command, distinct from supervised SERVER/UTIL children.
// { "name": "...", "args": ["..."] }
func (h *Handler) UtilProcessStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	out, err := h.core.UtilProcessStart(ctx, req.Name, req.Args)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "util-process start failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "output": out})
}
