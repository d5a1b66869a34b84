package handler

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/google/uuid"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &domain.APIError{
		Code:    status,
		Message: message,
	})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrAccessDenied):
		respondAccessDenied(w, err)
	case errors.Is(err, domain.ErrRangeExhausted):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondAccessDenied answers a denied tunnel request with the rule that
// blocked it, if any.
func respondAccessDenied(w http.ResponseWriter, err error) {
	body := map[string]any{
		"code":    http.StatusForbidden,
		"message": err.Error(),
	}
	var denied *domain.AccessDeniedError
	if errors.As(err, &denied) && denied.Rule != nil {
		body["matched_rule"] = denied.Rule
	}
	respondJSON(w, http.StatusForbidden, body)
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	// Generate 32 random bytes for the key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = "ztna_" + hex.EncodeToString(bytes)
	hash = hashKey(key)
	prefix = key[:13] // "ztna_" + first 8 chars of hex

	return key, hash, prefix, nil
}

// hashKey creates a SHA-256 hash of the API key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
