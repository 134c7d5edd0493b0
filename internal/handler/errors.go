package handler

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/logger"
    "github.com/iliyamo/clinic-api/internal/service"
)

// fail renders a service error.  Internal causes are logged, never sent.
func fail(c echo.Context, err error) error {
    kind := service.KindOf(err)
    if kind == service.KindInternal {
        logger.Error().Err(err).
            Str("method", c.Request().Method).
            Str("path", c.Path()).
            Msg("request failed")
    }
    return c.JSON(kind.Status(), echo.Map{"error": service.Message(err)})
}
