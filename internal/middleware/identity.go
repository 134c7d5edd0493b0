package middleware

// identity.go holds the context keys shared by the middleware chain and the
// accessors handlers use to read the authenticated identity back.

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/token"
)

const (
    ctxClaims   = "claims"
    ctxTenantID = "tenant_id"
    ctxUserID   = "user_id"
    ctxRole     = "role"
)

// ClaimsFrom returns the verified access token claims, nil on public routes.
func ClaimsFrom(c echo.Context) *token.Claims {
    cl, _ := c.Get(ctxClaims).(*token.Claims)
    return cl
}

// TenantFrom returns the tenant resolved from X-Tenant-ID, 0 when absent.
func TenantFrom(c echo.Context) uint64 {
    id, _ := c.Get(ctxTenantID).(uint64)
    return id
}
