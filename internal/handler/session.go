package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/middleware"
)

// ListSessions returns the caller's live sessions; the one making the
// request is flagged current.
func (h *AuthHandler) ListSessions(c echo.Context) error {
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    sessions, err := h.Svc.ListSessions(ctx, cl.UserID(), cl.SessionID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

// RevokeSession ends one of the caller's sessions by id.
func (h *AuthHandler) RevokeSession(c echo.Context) error {
    family := c.Param("family")
    if family == "" || len(family) > 64 {
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid session id"})
    }
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if err := h.Svc.RevokeSession(ctx, cl.TenantID, cl.UserID(), family, clientMeta(c)); err != nil {
        return fail(c, err)
    }
    if family == cl.SessionID {
        h.clearRefreshCookie(c)
    }
    return c.NoContent(http.StatusNoContent)
}
