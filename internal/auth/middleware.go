package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// PrincipalKey holds the authenticated principal in request contexts.
const PrincipalKey contextKey = "principal"

// Middleware enforces bearer authentication on HTTP handlers.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates auth middleware over a Verifier.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth wraps a handler with bearer token validation. When the
// verifier is disabled the request passes through untouched.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.verifier.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		principal, err := m.verifier.VerifyToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetPrincipal returns the authenticated principal from ctx, if any.
func GetPrincipal(ctx context.Context) string {
	principal, _ := ctx.Value(PrincipalKey).(string)
	return principal
}
