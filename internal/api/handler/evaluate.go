package handler

import (
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/acl"
	"github.com/bcnelson/ztna-hub/internal/domain"
)

// EvaluateHandler exposes the ACL decision engine.
type EvaluateHandler struct {
	engine *acl.Engine
}

// NewEvaluateHandler creates a new EvaluateHandler.
func NewEvaluateHandler(engine *acl.Engine) *EvaluateHandler {
	return &EvaluateHandler{engine: engine}
}

// Evaluate decides a connection request. Matches count and denials are
// recorded.
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.ConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := h.engine.Evaluate(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// DryRun decides a connection request without side effects. Used to test
// a policy before rolling it out.
func (h *EvaluateHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var req domain.ConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := h.engine.Test(&req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}
