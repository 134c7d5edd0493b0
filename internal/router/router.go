package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/clinic-api/internal/config"
	"github.com/iliyamo/clinic-api/internal/csrf"
	"github.com/iliyamo/clinic-api/internal/handler"
	"github.com/iliyamo/clinic-api/internal/middleware"
	"github.com/iliyamo/clinic-api/internal/token"
)

// Deps carries what route registration needs.  Redis may be nil, which
// disables rate limiting.
type Deps struct {
	Auth      *handler.AuthHandler
	Codec     *token.Codec
	CSRF      *csrf.Guard
	Tenants   middleware.TenantLookup
	DB        handler.Pinger
	RateLimit config.RateLimitConfig
	Redis     *redis.Client
}

// RegisterRoutes registers routes that do not require a tenant or a token.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
}

// RegisterAuth registers the authentication and session routes.  Every
// route resolves the tenant first.  Login and refresh are rate limited and
// exempt from CSRF since no session exists yet; everything carrying a bearer
// token is CSRF checked, logout included.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := d.Auth
	limiter := middleware.NewLimiter(d.RateLimit, d.Redis)

	g := e.Group("/v1/auth", middleware.Tenant(d.Tenants))
	g.POST("/login", a.Login, limiter.PerClient(), limiter.PerAccount())
	g.POST("/refresh", a.Refresh, limiter.PerClient())
	g.POST("/logout", a.Logout, middleware.OptionalJWT(d.Codec), middleware.OptionalCSRF(d.CSRF))

	auth := g.Group("", middleware.JWTAuth(d.Codec), middleware.CSRF(d.CSRF))
	auth.GET("/csrf-token", a.CSRFToken)
	auth.GET("/me", a.Me)
	auth.POST("/logout-all", a.LogoutAll)
	auth.POST("/change-password", a.ChangePassword)
	auth.GET("/sessions", a.ListSessions)
	auth.DELETE("/sessions/:family", a.RevokeSession)
	auth.POST("/register", a.Register, middleware.RequirePermission("staff.manage"))

	v1 := e.Group("/v1", middleware.Tenant(d.Tenants), middleware.JWTAuth(d.Codec), middleware.CSRF(d.CSRF))
	v1.GET("/audit-logs", a.AuditLogs, middleware.RequirePermission("audit.read"))
}
