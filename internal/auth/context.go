package auth

import (
	"context"
	"errors"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const tenantContextKey contextKey = "tenant"

var errMissingAuth = errors.New("missing or malformed Authorization header")

// TenantInfo holds the tenant identity extracted from a validated JWT.
type TenantInfo struct {
	ID   string
	Name string
}

// TenantFromContext extracts tenant info injected by Middleware.
func TenantFromContext(ctx context.Context) (*TenantInfo, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(*TenantInfo)
	return tenant, ok
}

// RequireTenant returns an error if tenant info is not present in context.
func RequireTenant(ctx context.Context) (*TenantInfo, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return nil, errors.New("tenant context not found")
	}
	return tenant, nil
}
