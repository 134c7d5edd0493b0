package middleware

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/token"
)

// JWTAuth validates the Bearer access token and stores its claims in the
// context.  When a tenant was resolved earlier in the chain, the token must
// belong to that tenant.
func JWTAuth(codec *token.Codec) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := bearer(c)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            claims, err := codec.Verify(raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
            }
            if t := TenantFrom(c); t != 0 && t != claims.TenantID {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "token does not belong to this tenant"})
            }
            setClaims(c, claims)
            return next(c)
        }
    }
}

// OptionalJWT stores the claims of a valid Bearer token and otherwise lets
// the request through anonymously.  Logout uses it so an expired access
// token does not block signing out.
func OptionalJWT(codec *token.Codec) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if raw, ok := bearer(c); ok {
                if claims, err := codec.Verify(raw); err == nil {
                    if t := TenantFrom(c); t == 0 || t == claims.TenantID {
                        setClaims(c, claims)
                    }
                }
            }
            return next(c)
        }
    }
}

func bearer(c echo.Context) (string, bool) {
    auth := c.Request().Header.Get(echo.HeaderAuthorization)
    if !strings.HasPrefix(auth, "Bearer ") {
        return "", false
    }
    raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
    return raw, raw != ""
}

func setClaims(c echo.Context, claims *token.Claims) {
    c.Set(ctxClaims, claims)
    c.Set(ctxUserID, claims.UserID())
    c.Set(ctxRole, claims.RoleName)
}
