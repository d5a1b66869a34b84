package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/storage"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// Auth authenticates requests with a bearer API key. While the key table
// is empty the configured bootstrap key is accepted, so a fresh hub can
// mint its first real key; once any key exists the bootstrap key is dead.
func Auth(store storage.Storage, bootstrapKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			ctx := r.Context()

			keyCount, err := store.CountAPIKeys(ctx)
			if err != nil {
				serverError(w)
				return
			}
			if keyCount == 0 && bootstrapKey != "" &&
				subtle.ConstantTimeCompare([]byte(raw), []byte(bootstrapKey)) == 1 {
				ctx = context.WithValue(ctx, APIKeyContextKey, &domain.APIKey{
					ID:   "bootstrap",
					Name: "Bootstrap Key",
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			storedKey, err := store.GetAPIKeyByHash(ctx, hashAPIKey(raw))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					unauthorized(w, "invalid API key")
					return
				}
				serverError(w)
				return
			}

			// Best effort; auth does not wait on this write.
			go func() {
				_ = store.UpdateAPIKeyLastUsed(context.Background(), storedKey.ID)
			}()

			ctx = context.WithValue(ctx, APIKeyContextKey, storedKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	http.Error(w, `{"code":401,"message":"`+msg+`"}`, http.StatusUnauthorized)
}

func serverError(w http.ResponseWriter) {
	http.Error(w, `{"code":500,"message":"internal server error"}`, http.StatusInternalServerError)
}

// hashAPIKey hashes a key for storage lookup. SHA-256 is enough here
// because keys are high-entropy random strings, not passwords.
func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GetAPIKeyFromContext retrieves the authenticated key from the request context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
