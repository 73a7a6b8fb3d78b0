package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tapon/qrengine/internal/auth"
)

// HeaderOwnerID carries the authenticated owner set by the gateway in front
// of this service.
const HeaderOwnerID = "X-Owner-ID"

const maxOwnerIDLength = 64

// Owner puts the caller's owner ID into the request context and rejects
// requests without one.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
		if owner == "" || len(owner) > maxOwnerIDLength {
			writeJSONError(w, http.StatusUnauthorized, "OWNER_REQUIRED", "Owner identity is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), owner)))
	})
}

// writeJSONError writes the API's error body.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{message, code})
}
