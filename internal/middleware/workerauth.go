package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// WorkerAuth gates status-mutating worker endpoints behind a shared bearer
// credential. Deliberately a thin guard: worker processes are trusted
// infrastructure, not end users.
func WorkerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization", http.StatusUnauthorized)
				return
			}
			if token == "" || !hmac.Equal([]byte(parts[1]), []byte(token)) {
				http.Error(w, "invalid worker credential", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
