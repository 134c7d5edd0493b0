package model

import "time"

// AuditLog is a persisted security event.
type AuditLog struct {
    ID         uint64    `json:"id"`
    TenantID   uint64    `json:"tenant_id"`
    UserID     uint64    `json:"user_id,omitempty"`
    Event      string    `json:"event"`
    Severity   string    `json:"severity"`
    IP         string    `json:"ip,omitempty"`
    UserAgent  string    `json:"user_agent,omitempty"`
    Detail     string    `json:"detail,omitempty"`
    OccurredAt time.Time `json:"occurred_at"`
}

// Security event names.
const (
    EventLoginSuccess    = "login.success"
    EventLoginFailure    = "login.failure"
    EventLogout          = "logout"
    EventLogoutAll       = "logout_all"
    EventPasswordChanged = "password.changed"
    EventTokenReuse      = "refresh_token.reuse"
    EventSessionRevoked  = "session.revoked"
    EventUserRegistered  = "user.registered"
)

// Severities, lowest to highest.
const (
    SeverityInfo     = "info"
    SeverityWarning  = "warning"
    SeverityCritical = "critical"
)
