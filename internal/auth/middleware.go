package auth

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
)

// IsAdmin only lets requests through that carry a valid bearer token with
// role=admin.
func IsAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			log.Debug("Rejected bearer token", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if role, _ := claims["role"].(string); role != RoleAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
