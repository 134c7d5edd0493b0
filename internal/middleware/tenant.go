package middleware

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/logger"
    "github.com/iliyamo/clinic-api/internal/model"
    "github.com/iliyamo/clinic-api/internal/repository"
)

// TenantHeader selects the tenant a request operates on.
const TenantHeader = "X-Tenant-ID"

// TenantLookup is satisfied by *repository.TenantRepo.
type TenantLookup interface {
    GetByID(ctx context.Context, id uint64) (model.Tenant, error)
}

// Tenant resolves X-Tenant-ID and rejects unknown or inactive tenants.
func Tenant(tenants TenantLookup) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            v := strings.TrimSpace(c.Request().Header.Get(TenantHeader))
            if v == "" {
                return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing " + TenantHeader + " header"})
            }
            id, err := strconv.ParseUint(v, 10, 64)
            if err != nil || id == 0 {
                return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid " + TenantHeader + " header"})
            }

            ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
            defer cancel()
            t, err := tenants.GetByID(ctx, id)
            if errors.Is(err, repository.ErrNotFound) || (err == nil && !t.IsActive) {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "unknown or inactive tenant"})
            }
            if err != nil {
                logger.Error().Err(err).Uint64("tenant_id", id).Msg("tenant lookup failed")
                return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
            }
            c.Set(ctxTenantID, id)
            return next(c)
        }
    }
}
