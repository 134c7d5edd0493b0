// Package token issues and verifies the HS256 access tokens carried in the
// Authorization header.
package token

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the only error Verify returns.  Structure, signature,
// expiry and issuer failures all look the same to the caller.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the fixed claim set of an access token.  Subject holds the user
// id in decimal; SessionID is the refresh token family the token was minted
// for and keys the CSRF session.
type Claims struct {
	TenantID    uint64   `json:"tenant_id"`
	RoleID      uint64   `json:"role_id"`
	RoleName    string   `json:"role_name"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	SessionID   string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() uint64 {
	id, _ := strconv.ParseUint(c.Subject, 10, 64)
	return id
}

// Can reports whether the permission set contains perm.
func (c *Claims) Can(perm string) bool {
	_, found := slices.BinarySearch(c.Permissions, perm)
	return found
}

// Subject describes who a token is issued to.
type Subject struct {
	UserID      uint64
	TenantID    uint64
	RoleID      uint64
	RoleName    string
	Username    string
	Permissions []string
	SessionID   string
}

// AccessToken is a signed token together with its claims.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	Claims    Claims
}

// Codec signs and verifies access tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec returns a Codec issuing tokens valid for ttl.
func NewCodec(secret, issuer string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Codec{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source used for iat/exp and for verification.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// TTL is the access token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue builds and signs an access token for s.  Permissions are stored
// sorted and de-duplicated.
func (c *Codec) Issue(s Subject) (AccessToken, error) {
	if s.UserID == 0 || s.TenantID == 0 || s.RoleID == 0 || s.RoleName == "" {
		return AccessToken{}, errors.New("token subject is incomplete")
	}
	issued := c.now().UTC().Truncate(time.Second)
	exp := issued.Add(c.ttl)
	claims := Claims{
		TenantID:    s.TenantID,
		RoleID:      s.RoleID,
		RoleName:    s.RoleName,
		Username:    s.Username,
		Permissions: normalizePermissions(s.Permissions),
		SessionID:   s.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatUint(s.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, ExpiresAt: exp, Claims: claims}, nil
}

// Verify checks signature, expiry, issuer and required claims and returns
// the claim set.
func (c *Codec) Verify(raw string) (*Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID() == 0 || claims.TenantID == 0 || claims.RoleID == 0 || claims.RoleName == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func normalizePermissions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
