package handler

import (
	"net/http"
	"strconv"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/storage"
)

// EventHandler serves the audit event log.
type EventHandler struct {
	store storage.Storage
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(store storage.Storage) *EventHandler {
	return &EventHandler{store: store}
}

// List returns recorded events, newest first.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.EventFilter{
		Type:     r.URL.Query().Get("type"),
		TunnelID: r.URL.Query().Get("tunnel_id"),
		Limit:    100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			respondError(w, http.StatusBadRequest, "offset must be non-negative")
			return
		}
		filter.Offset = offset
	}

	events, err := h.store.ListEvents(r.Context(), filter)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}
