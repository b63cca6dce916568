package auth

import (
	"context"
	"net/http"
	"strings"
)

// Middleware validates a bearer JWT on every request and injects its
// claims into the request context, the chi-native analog of the teacher's
// gRPC APIKeyInterceptor (internal/auth/apikey.go) — same
// skip-list/extract/reject shape, adapted from gRPC metadata to an HTTP
// Authorization header since this service's external surface is a plain
// chi façade, not gRPC.
type Middleware struct {
	manager *JWTManager
	skip    map[string]bool
}

// NewMiddleware builds a Middleware around manager. skipPaths lists request
// paths (exact match) that bypass authentication, e.g. health checks.
func NewMiddleware(manager *JWTManager, skipPaths ...string) *Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &Middleware{manager: manager, skip: skip}
}

// Handler returns an http middleware enforcing bearer-JWT authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := m.manager.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, &TenantInfo{
			ID:   claims.TenantID,
			Name: claims.TenantName,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingAuth
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errMissingAuth
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errMissingAuth
	}
	return token, nil
}
