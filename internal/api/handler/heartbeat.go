package handler

import (
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/heartbeat"
)

// HeartbeatHandler receives node heartbeats and exposes the node directory.
type HeartbeatHandler struct {
	monitor *heartbeat.Monitor
}

// NewHeartbeatHandler creates a new HeartbeatHandler.
func NewHeartbeatHandler(monitor *heartbeat.Monitor) *HeartbeatHandler {
	return &HeartbeatHandler{monitor: monitor}
}

// Receive processes one heartbeat. A node's first heartbeat registers it.
func (h *HeartbeatHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req domain.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	node, err := h.monitor.Receive(r.Context(), &req, r.RemoteAddr)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

// Nodes lists all known nodes.
func (h *HeartbeatHandler) Nodes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.monitor.Nodes())
}
