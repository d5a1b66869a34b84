package handler

import (
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/tunnel"
	"github.com/go-chi/chi/v5"
)

// TunnelHandler handles the operator-facing tunnel endpoints.
type TunnelHandler struct {
	manager *tunnel.Manager
}

// NewTunnelHandler creates a new TunnelHandler.
func NewTunnelHandler(manager *tunnel.Manager) *TunnelHandler {
	return &TunnelHandler{manager: manager}
}

// Create requests a new tunnel. The ACL engine decides admission.
func (h *TunnelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTunnelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.manager.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// List lists tunnels, optionally filtered by node, class or status.
func (h *TunnelHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.TunnelFilter{
		NodeID: r.URL.Query().Get("node_id"),
		Class:  domain.TunnelClass(r.URL.Query().Get("class")),
		Status: domain.TunnelStatus(r.URL.Query().Get("status")),
	}

	tunnels, err := h.manager.List(r.Context(), filter)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tunnels)
}

// Get returns a single tunnel.
func (h *TunnelHandler) Get(w http.ResponseWriter, r *http.Request) {
	got, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, got)
}

// Stats returns the observability view of a tunnel.
func (h *TunnelHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Close tears a tunnel down on operator request.
func (h *TunnelHandler) Close(w http.ResponseWriter, r *http.Request) {
	closed, err := h.manager.Close(r.Context(), chi.URLParam(r, "id"), domain.CloseRequested)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, closed)
}
