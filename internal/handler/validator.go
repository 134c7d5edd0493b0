package handler

import (
    "errors"
    "net/http"
    "reflect"
    "strings"

    "github.com/go-playground/validator/v10"
    "github.com/labstack/echo/v4"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
    v *validator.Validate
}

// NewValidator reports field errors under their json names.
func NewValidator() *Validator {
    v := validator.New(validator.WithRequiredStructEnabled())
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    return &Validator{v: v}
}

func (cv *Validator) Validate(i any) error {
    return cv.v.Struct(i)
}

// bindValid binds the body into req and validates it.  A body that does not
// bind or validate is a 422; the response has already been written and the
// returned bool is false.
func bindValid(c echo.Context, req any) (bool, error) {
    if err := c.Bind(req); err != nil {
        return false, c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid body"})
    }
    if err := c.Validate(req); err != nil {
        var verrs validator.ValidationErrors
        if errors.As(err, &verrs) {
            fields := make(map[string]string, len(verrs))
            for _, fe := range verrs {
                fields[fe.Field()] = fe.Tag()
            }
            return false, c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "validation failed", "fields": fields})
        }
        return false, c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "validation failed"})
    }
    return true, nil
}
