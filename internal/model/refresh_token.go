package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  The raw
// token only ever lives in the client's cookie; the table stores its SHA-256
// hex digest.  Family is shared by every token descended from one login and
// is the unit of mass revocation.  A row is ACTIVE until it is revoked
// (rotation, logout, theft response) or its expiry passes; neither of those
// states is ever left.
type RefreshToken struct {
    ID        uint64    // refresh_tokens.id
    UserID    uint64    // refresh_tokens.user_id
    TenantID  uint64    // refresh_tokens.tenant_id
    TokenHash string    // refresh_tokens.token_hash (unique)
    Family    string    // refresh_tokens.family
    ExpiresAt time.Time // refresh_tokens.expires_at
    Revoked   bool      // refresh_tokens.revoked
    IP        string    // refresh_tokens.ip
    UserAgent string    // refresh_tokens.user_agent
    CreatedAt time.Time // refresh_tokens.created_at
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
    return !now.Before(t.ExpiresAt)
}

// Session summarises one live refresh token family for session listings.
type Session struct {
    Family    string    `json:"id"`
    IP        string    `json:"ip"`
    UserAgent string    `json:"user_agent"`
    StartedAt time.Time `json:"started_at"`
    LastUsed  time.Time `json:"last_used"`
    ExpiresAt time.Time `json:"expires_at"`
    Current   bool      `json:"current"`
}
