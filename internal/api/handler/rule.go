package handler

import (
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/acl"
	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Reevaluator is notified after any rule change so open tunnels get
// re-checked against the new rule set.
type Reevaluator interface {
	TriggerReevaluation()
}

// RuleHandler handles access rule endpoints.
type RuleHandler struct {
	rules  *acl.Store
	reeval Reevaluator
}

// NewRuleHandler creates a new RuleHandler.
func NewRuleHandler(rules *acl.Store, reeval Reevaluator) *RuleHandler {
	return &RuleHandler{rules: rules, reeval: reeval}
}

// Create creates a new access rule.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccessRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.rules.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	h.reeval.TriggerReevaluation()
	respondJSON(w, http.StatusCreated, rule)
}

// List lists all access rules in evaluation order.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.rules.List())
}

// Get returns a single access rule.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.rules.Get(id)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update updates an access rule.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateAccessRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.rules.Update(r.Context(), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	h.reeval.TriggerReevaluation()
	respondJSON(w, http.StatusOK, rule)
}

// SetEnabled enables or disables a rule without touching its predicates.
func (h *RuleHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.SetEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.rules.SetEnabled(r.Context(), id, req.Enabled)
	if err != nil {
		handleError(w, err)
		return
	}

	h.reeval.TriggerReevaluation()
	respondJSON(w, http.StatusOK, rule)
}

// Delete deletes an access rule.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.rules.Delete(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	h.reeval.TriggerReevaluation()
	w.WriteHeader(http.StatusNoContent)
}
