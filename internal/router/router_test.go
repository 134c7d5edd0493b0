package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/clinic-api/internal/config"
	"github.com/iliyamo/clinic-api/internal/csrf"
	"github.com/iliyamo/clinic-api/internal/handler"
	"github.com/iliyamo/clinic-api/internal/middleware"
	"github.com/iliyamo/clinic-api/internal/model"
	"github.com/iliyamo/clinic-api/internal/repository"
	"github.com/iliyamo/clinic-api/internal/service"
	"github.com/iliyamo/clinic-api/internal/token"
)

// sessions implements only what these routing tests reach; the embedded
// nil interface panics on anything else.
type sessions struct {
	handler.SessionAPI
}

func (sessions) LogoutAll(context.Context, uint64, uint64, service.ClientMeta) (int64, error) {
	return 1, nil
}

func (sessions) AuditLogs(context.Context, uint64, repository.AuditFilter) ([]model.AuditLog, error) {
	return []model.AuditLog{}, nil
}

type tenants struct{}

func (tenants) GetByID(_ context.Context, id uint64) (model.Tenant, error) {
	if id != 5 {
		return model.Tenant{}, repository.ErrNotFound
	}
	return model.Tenant{ID: 5, IsActive: true}, nil
}

func newServer(t *testing.T) (*echo.Echo, *csrf.Guard, *token.Codec) {
	t.Helper()
	codec, err := token.NewCodec("jwt-secret", "clinic-api", 15*time.Minute)
	require.NoError(t, err)
	guard := csrf.NewGuard(csrf.NewMemoryStore(), time.Hour)

	e := echo.New()
	e.Validator = handler.NewValidator()
	d := Deps{
		Auth:    handler.NewAuthHandler(sessions{}, config.CookieConfig{Name: "refresh_token", Path: "/v1/auth"}),
		Codec:   codec,
		CSRF:    guard,
		Tenants: tenants{},
	}
	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	return e, guard, codec
}

func accessToken(t *testing.T, codec *token.Codec, perms ...string) string {
	t.Helper()
	at, err := codec.Issue(token.Subject{
		UserID: 7, TenantID: 5, RoleID: 2, RoleName: "doctor", Permissions: perms, SessionID: "fam-1",
	})
	require.NoError(t, err)
	return at.Token
}

func call(e *echo.Echo, method, path string, hdr map[string]string) int {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestHealthz(t *testing.T) {
	e, _, _ := newServer(t)
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/healthz", nil))
}

func TestAuthRouteProtection(t *testing.T) {
	e, guard, codec := newServer(t)
	bearer := "Bearer " + accessToken(t, codec)

	assert.Equal(t, http.StatusBadRequest, call(e, http.MethodPost, "/v1/auth/logout-all", nil))
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodPost, "/v1/auth/logout-all",
		map[string]string{middleware.TenantHeader: "6"}))
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodPost, "/v1/auth/logout-all",
		map[string]string{middleware.TenantHeader: "5"}))
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodPost, "/v1/auth/logout-all",
		map[string]string{middleware.TenantHeader: "5", "Authorization": bearer}))

	tok, err := guard.Generate(context.Background(), "fam-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call(e, http.MethodPost, "/v1/auth/logout-all",
		map[string]string{middleware.TenantHeader: "5", "Authorization": bearer, csrf.HeaderName: tok}))
}

func TestAuditLogsNeedPermission(t *testing.T) {
	e, _, codec := newServer(t)

	without := map[string]string{middleware.TenantHeader: "5", "Authorization": "Bearer " + accessToken(t, codec)}
	assert.Equal(t, http.StatusForbidden, call(e, http.MethodGet, "/v1/audit-logs", without))

	with := map[string]string{middleware.TenantHeader: "5", "Authorization": "Bearer " + accessToken(t, codec, "audit.read")}
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/v1/audit-logs", with))
}
