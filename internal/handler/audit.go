package handler

import (
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/middleware"
    "github.com/iliyamo/clinic-api/internal/repository"
)

// AuditLogs lists the tenant's security events.
// Query: user_id, event, limit (max 200), offset.
func (h *AuthHandler) AuditLogs(c echo.Context) error {
    var f repository.AuditFilter
    for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
        if v := c.QueryParam(name); v != "" {
            n, err := strconv.Atoi(v)
            if err != nil || n < 0 {
                return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid " + name})
            }
            *dst = n
        }
    }
    if v := c.QueryParam("user_id"); v != "" {
        id, err := strconv.ParseUint(v, 10, 64)
        if err != nil {
            return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid user_id"})
        }
        f.UserID = id
    }
    f.Event = c.QueryParam("event")
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    logs, err := h.Svc.AuditLogs(ctx, cl.TenantID, f)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"audit_logs": logs})
}
