package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/luminahq/lumina/internal/core/ports"
)

// AuthMiddleware guards the admin surface. It accepts either a bearer JWT
// from /admin/login or a raw API key, in the Authorization header or
// X-API-Key.
func AuthMiddleware(gate ports.AuthGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := r.Header.Get("X-API-Key")
			if cred == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
					http.Error(w, "Unauthorized: missing or invalid authorization header", http.StatusUnauthorized)
					return
				}
				cred = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if !gate.VerifyTokenOrAPIKey(r.Context(), cred) {
				http.Error(w, "Unauthorized: invalid credentials", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the caller address: first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
