package handler

import (
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/tunnel"
	"github.com/go-chi/chi/v5"
)

// AgentHandler handles the callbacks agents make while bringing a tunnel
// up or reporting that it fell over.
type AgentHandler struct {
	manager *tunnel.Manager
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(manager *tunnel.Manager) *AgentHandler {
	return &AgentHandler{manager: manager}
}

// Connecting marks a pending tunnel as mid-handshake.
func (h *AgentHandler) Connecting(w http.ResponseWriter, r *http.Request) {
	updated, err := h.manager.Connecting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// Established completes the handshake and activates the tunnel.
func (h *AgentHandler) Established(w http.ResponseWriter, r *http.Request) {
	updated, err := h.manager.Established(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// Failure reports a transport failure on an active tunnel.
func (h *AgentHandler) Failure(w http.ResponseWriter, r *http.Request) {
	var req domain.TransportFailureRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.manager.Fail(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
