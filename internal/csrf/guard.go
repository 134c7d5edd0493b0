// Package csrf implements the double-submit token tied to a login session.
// Tokens live server-side in a Store keyed by session id and are only
// replaced on login, refresh token rotation and explicit regeneration.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// HeaderName carries the token on state-changing requests.
const HeaderName = "X-CSRF-TOKEN"

var (
	ErrMissingHeader  = errors.New("csrf token header missing")
	ErrNoSessionToken = errors.New("csrf token missing or expired, request a new one")
	ErrTokenMismatch  = errors.New("csrf token mismatch")
)

// Record is the server-side copy of a session's token.
type Record struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists one Record per session id.  Get returns (nil, nil) when no
// record exists.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Record, error)
	Set(ctx context.Context, sessionID string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// Guard generates and checks CSRF tokens.
type Guard struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGuard returns a Guard whose tokens expire after ttl.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Guard{store: store, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Generate creates a fresh 32 byte token for sessionID, overwriting any
// previous one.
func (g *Guard) Generate(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: empty session id")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(buf)
	rec := Record{Token: tok, ExpiresAt: g.now().Add(g.ttl)}
	if err := g.store.Set(ctx, sessionID, rec, g.ttl); err != nil {
		return "", err
	}
	return tok, nil
}

// Validate checks header against the token stored for sessionID.  Safe
// methods always pass.
func (g *Guard) Validate(ctx context.Context, sessionID, method, header string) error {
	if IsSafeMethod(method) {
		return nil
	}
	if header == "" {
		return ErrMissingHeader
	}
	if sessionID == "" {
		return ErrNoSessionToken
	}
	rec, err := g.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil || !g.now().Before(rec.ExpiresAt) {
		return ErrNoSessionToken
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(rec.Token)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// Destroy removes the token for sessionID.  Removing a missing entry is not
// an error.
func (g *Guard) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return g.store.Delete(ctx, sessionID)
}

// Snapshot returns the record currently stored for sessionID, nil when
// there is none.
func (g *Guard) Snapshot(ctx context.Context, sessionID string) (*Record, error) {
	if sessionID == "" {
		return nil, nil
	}
	return g.store.Get(ctx, sessionID)
}

// Restore puts back a record taken with Snapshot.  A nil or expired record
// removes the entry instead.
func (g *Guard) Restore(ctx context.Context, sessionID string, prev *Record) error {
	if sessionID == "" {
		return nil
	}
	if prev == nil {
		return g.store.Delete(ctx, sessionID)
	}
	left := prev.ExpiresAt.Sub(g.now())
	if left <= 0 {
		return g.store.Delete(ctx, sessionID)
	}
	return g.store.Set(ctx, sessionID, *prev, left)
}

// IsSafeMethod reports whether method is read-only.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
