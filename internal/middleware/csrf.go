package middleware

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/csrf"
    "github.com/iliyamo/clinic-api/internal/logger"
)

// CSRF enforces the X-CSRF-TOKEN header on state-changing requests.  It runs
// after JWTAuth; the session is the token's sid claim.
func CSRF(guard *csrf.Guard) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            if csrf.IsSafeMethod(req.Method) {
                return next(c)
            }
            var sid string
            if cl := ClaimsFrom(c); cl != nil {
                sid = cl.SessionID
            }
            err := guard.Validate(req.Context(), sid, req.Method, req.Header.Get(csrf.HeaderName))
            switch {
            case err == nil:
                return next(c)
            case errors.Is(err, csrf.ErrMissingHeader),
                errors.Is(err, csrf.ErrNoSessionToken),
                errors.Is(err, csrf.ErrTokenMismatch):
                logger.Warn().Str("path", c.Path()).Str("reason", err.Error()).Msg("csrf check failed")
                return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
            default:
                logger.Error().Err(err).Msg("csrf store unavailable")
                return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
            }
        }
    }
}

// OptionalCSRF runs the CSRF check only when OptionalJWT resolved a
// session.  Cookie-only requests pass.
func OptionalCSRF(guard *csrf.Guard) echo.MiddlewareFunc {
    check := CSRF(guard)
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        checked := check(next)
        return func(c echo.Context) error {
            if ClaimsFrom(c) == nil {
                return next(c)
            }
            return checked(c)
        }
    }
}
