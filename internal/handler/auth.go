package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/clinic-api/internal/config"
    "github.com/iliyamo/clinic-api/internal/middleware"
    "github.com/iliyamo/clinic-api/internal/model"
    "github.com/iliyamo/clinic-api/internal/repository"
    "github.com/iliyamo/clinic-api/internal/service"
)

// SessionAPI is the session service as seen by the HTTP layer.  It is
// satisfied by *service.SessionService.
type SessionAPI interface {
    Login(ctx context.Context, in service.LoginInput) (service.AuthResult, error)
    Refresh(ctx context.Context, in service.RefreshInput) (service.AuthResult, error)
    Logout(ctx context.Context, in service.LogoutInput) error
    LogoutAll(ctx context.Context, tenantID, userID uint64, meta service.ClientMeta) (int64, error)
    ChangePassword(ctx context.Context, in service.ChangePasswordInput) error
    Register(ctx context.Context, in service.RegisterInput) (service.UserInfo, error)
    Me(ctx context.Context, tenantID, userID uint64) (service.UserInfo, error)
    RegenerateCSRF(ctx context.Context, sessionID string) (string, error)
    ListSessions(ctx context.Context, userID uint64, current string) ([]model.Session, error)
    RevokeSession(ctx context.Context, tenantID, userID uint64, family string, meta service.ClientMeta) error
    AuditLogs(ctx context.Context, tenantID uint64, f repository.AuditFilter) ([]model.AuditLog, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Svc    SessionAPI
    Cookie config.CookieConfig
}

func NewAuthHandler(svc SessionAPI, cookie config.CookieConfig) *AuthHandler {
    return &AuthHandler{Svc: svc, Cookie: cookie}
}

// ----- DTOs -----

type loginReq struct {
    Username string `json:"username" validate:"required,max=254"`
    Password string `json:"password" validate:"required,max=72"`
}

type changePasswordReq struct {
    CurrentPassword string `json:"current_password" validate:"required,max=72"`
    NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type registerReq struct {
    Username string `json:"username" validate:"required,min=3,max=64"`
    Email    string `json:"email" validate:"required,email,max=254"`
    Password string `json:"password" validate:"required,min=8,max=72"`
    FullName string `json:"full_name" validate:"required,max=128"`
    Phone    string `json:"phone" validate:"omitempty,max=32"`
    RoleID   uint64 `json:"role_id" validate:"required,gt=0"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}

type authResp struct {
    User      service.UserInfo `json:"user"`
    Access    tokenPart        `json:"access"`
    CSRFToken string           `json:"csrf_token"`
}

// Login: verify credentials, open a session, refresh token goes to the cookie.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if ok, err := bindValid(c, &req); !ok {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    res, err := h.Svc.Login(ctx, service.LoginInput{
        TenantID: middleware.TenantFrom(c),
        Username: req.Username,
        Password: req.Password,
        Meta:     clientMeta(c),
    })
    if err != nil {
        return fail(c, err)
    }
    h.setRefreshCookie(c, res.RefreshToken, res.RefreshExpiresAt)
    return c.JSON(http.StatusOK, toAuthResp(res))
}

// Refresh: rotate the cookie's refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
    raw := h.refreshCookie(c)
    if raw == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired refresh token"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    res, err := h.Svc.Refresh(ctx, service.RefreshInput{
        TenantID:     middleware.TenantFrom(c),
        RefreshToken: raw,
        Meta:         clientMeta(c),
    })
    if err != nil {
        if service.KindOf(err) == service.KindUnauthenticated {
            h.clearRefreshCookie(c)
        }
        return fail(c, err)
    }
    h.setRefreshCookie(c, res.RefreshToken, res.RefreshExpiresAt)
    return c.JSON(http.StatusOK, toAuthResp(res))
}

// Logout: revoke the cookie's token and end the CSRF session.  Always 204.
func (h *AuthHandler) Logout(c echo.Context) error {
    in := service.LogoutInput{
        TenantID:     middleware.TenantFrom(c),
        RefreshToken: h.refreshCookie(c),
        Meta:         clientMeta(c),
    }
    if cl := middleware.ClaimsFrom(c); cl != nil {
        in.UserID, in.SessionID = cl.UserID(), cl.SessionID
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if err := h.Svc.Logout(ctx, in); err != nil {
        return fail(c, err)
    }
    h.clearRefreshCookie(c)
    return c.NoContent(http.StatusNoContent)
}

// LogoutAll: revoke every session of the caller.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    n, err := h.Svc.LogoutAll(ctx, cl.TenantID, cl.UserID(), clientMeta(c))
    if err != nil {
        return fail(c, err)
    }
    h.clearRefreshCookie(c)
    return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// ChangePassword: replace the password; every session ends, this one too.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
    var req changePasswordReq
    if ok, err := bindValid(c, &req); !ok {
        return err
    }
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    err := h.Svc.ChangePassword(ctx, service.ChangePasswordInput{
        TenantID:        cl.TenantID,
        UserID:          cl.UserID(),
        CurrentPassword: req.CurrentPassword,
        NewPassword:     req.NewPassword,
        Meta:            clientMeta(c),
    })
    if err != nil {
        return fail(c, err)
    }
    h.clearRefreshCookie(c)
    return c.NoContent(http.StatusNoContent)
}

// Register: create a staff account in the caller's tenant.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if ok, err := bindValid(c, &req); !ok {
        return err
    }
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    u, err := h.Svc.Register(ctx, service.RegisterInput{
        TenantID: cl.TenantID,
        ActorID:  cl.UserID(),
        Username: req.Username,
        Email:    req.Email,
        Password: req.Password,
        FullName: req.FullName,
        Phone:    req.Phone,
        RoleID:   req.RoleID,
        Meta:     clientMeta(c),
    })
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, u)
}

// Me: the caller's profile and token permissions.
func (h *AuthHandler) Me(c echo.Context) error {
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    u, err := h.Svc.Me(ctx, cl.TenantID, cl.UserID())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "user":        u,
        "permissions": cl.Permissions,
        "session_id":  cl.SessionID,
    })
}

// CSRFToken: issue a fresh CSRF token for the caller's session.
func (h *AuthHandler) CSRFToken(c echo.Context) error {
    cl := middleware.ClaimsFrom(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    tok, err := h.Svc.RegenerateCSRF(ctx, cl.SessionID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"csrf_token": tok})
}

func toAuthResp(res service.AuthResult) authResp {
    return authResp{
        User:      res.User,
        Access:    tokenPart{Token: res.Access.Token, Expires: res.Access.ExpiresAt},
        CSRFToken: res.CSRFToken,
    }
}

func (h *AuthHandler) refreshCookie(c echo.Context) string {
    ck, err := c.Cookie(h.Cookie.Name)
    if err != nil {
        return ""
    }
    return ck.Value
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, raw string, exp time.Time) {
    c.SetCookie(&http.Cookie{
        Name:     h.Cookie.Name,
        Value:    raw,
        Path:     h.Cookie.Path,
        Domain:   h.Cookie.Domain,
        Expires:  exp,
        MaxAge:   int(time.Until(exp).Seconds()),
        HttpOnly: true,
        Secure:   h.Cookie.Secure,
        SameSite: h.Cookie.SameSite,
    })
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
    c.SetCookie(&http.Cookie{
        Name:     h.Cookie.Name,
        Value:    "",
        Path:     h.Cookie.Path,
        Domain:   h.Cookie.Domain,
        Expires:  time.Unix(0, 0),
        MaxAge:   -1,
        HttpOnly: true,
        Secure:   h.Cookie.Secure,
        SameSite: h.Cookie.SameSite,
    })
}

func clientMeta(c echo.Context) service.ClientMeta {
    ua := c.Request().UserAgent()
    if len(ua) > 255 {
        ua = ua[:255]
    }
    return service.ClientMeta{IP: c.RealIP(), UserAgent: ua}
}
