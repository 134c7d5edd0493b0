package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/iliyamo/clinic-api/internal/csrf"
	"github.com/iliyamo/clinic-api/internal/logger"
	"github.com/iliyamo/clinic-api/internal/model"
	"github.com/iliyamo/clinic-api/internal/repository"
)

var (
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshReused   = errors.New("refresh token reuse detected")
	ErrUserInactive    = errors.New("refresh token owner is not active")
	ErrRotationFailed  = errors.New("refresh token rotation failed")
)

// TokenRepository is the persistence the refresh store needs.  It is
// satisfied by *repository.TokenRepo.
type TokenRepository interface {
	Insert(ctx context.Context, t *model.RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (repository.RefreshLookup, error)
	Rotate(ctx context.Context, oldHash string, userID, tenantID uint64, next *model.RefreshToken, now time.Time, beforeCommit func(family string) error) error
	RevokeByHash(ctx context.Context, tokenHash string) (int64, error)
	RevokeByID(ctx context.Context, id, userID uint64) (int64, error)
	RevokeFamily(ctx context.Context, family string) (int64, error)
	RevokeFamilyForUser(ctx context.Context, family string, userID uint64) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
	ActiveFamilies(ctx context.Context, userID uint64, now time.Time) ([]string, error)
	ListSessions(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error)
	DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error)
}

// Auditor receives security events.  Failures never abort the operation
// that produced the event.
type Auditor interface {
	Record(ctx context.Context, entry model.AuditLog) error
}

// ClientMeta describes the client a token was handed to.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// RotateResult is the outcome of a successful rotation.
type RotateResult struct {
	RawToken  string
	CSRFToken string
	Record    model.RefreshToken
}

// RefreshStore manages refresh token families.  Raw tokens are returned
// exactly once, at creation; only their SHA-256 digests are persisted.
type RefreshStore struct {
	repo  TokenRepository
	csrf  *csrf.Guard
	audit Auditor
	ttl   time.Duration
	now   func() time.Time
}

func NewRefreshStore(repo TokenRepository, guard *csrf.Guard, audit Auditor, ttl time.Duration) *RefreshStore {
	return &RefreshStore{repo: repo, csrf: guard, audit: audit, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (s *RefreshStore) WithClock(now func() time.Time) *RefreshStore {
	s.now = now
	return s
}

// HashToken returns the SHA-256 hex digest stored for a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Create issues a new refresh token.  An empty family starts a new one.
func (s *RefreshStore) Create(ctx context.Context, userID, tenantID uint64, family string, meta ClientMeta) (string, model.RefreshToken, error) {
	raw, err := randomHex(32)
	if err != nil {
		return "", model.RefreshToken{}, err
	}
	if family == "" {
		if family, err = randomHex(16); err != nil {
			return "", model.RefreshToken{}, err
		}
	}
	now := s.now().UTC()
	rec := model.RefreshToken{
		UserID:    userID,
		TenantID:  tenantID,
		TokenHash: HashToken(raw),
		Family:    family,
		ExpiresAt: now.Add(s.ttl),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if err := s.repo.Insert(ctx, &rec); err != nil {
		return "", model.RefreshToken{}, err
	}
	return raw, rec, nil
}

// Validate resolves raw to a usable token.  Presenting a token that was
// already revoked proves it leaked: the whole family is revoked before
// ErrRefreshReused is returned.  ErrUserInactive comes with the record so
// the caller can react to the owner.
func (s *RefreshStore) Validate(ctx context.Context, raw string) (model.RefreshToken, error) {
	if raw == "" {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	lk, err := s.repo.FindByHash(ctx, HashToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	if err != nil {
		return model.RefreshToken{}, err
	}
	rec := lk.Token
	if rec.Revoked {
		s.handleReuse(ctx, rec)
		return model.RefreshToken{}, ErrRefreshReused
	}
	if rec.Expired(s.now()) {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	if lk.UserDeleted || lk.UserStatus != model.UserActive {
		return rec, ErrUserInactive
	}
	return rec, nil
}

func (s *RefreshStore) handleReuse(ctx context.Context, rec model.RefreshToken) {
	n, err := s.RevokeFamily(ctx, rec.Family)
	ev := logger.Security().
		Str("event", model.EventTokenReuse).
		Uint64("tenant_id", rec.TenantID).
		Uint64("user_id", rec.UserID).
		Str("family", rec.Family).
		Int64("revoked", n)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("revoked refresh token presented again, family revoked")
	record(ctx, s.audit, model.AuditLog{
		TenantID: rec.TenantID,
		UserID:   rec.UserID,
		Event:    model.EventTokenReuse,
		Severity: model.SeverityCritical,
		Detail:   "family " + rec.Family + " revoked",
	})
}

// Rotate exchanges raw for a new token in the same family and regenerates
// the family's CSRF token, all inside one transaction.  Any failure leaves
// the old token untouched and returns ErrRotationFailed.
func (s *RefreshStore) Rotate(ctx context.Context, raw string, userID, tenantID uint64, meta ClientMeta) (RotateResult, error) {
	newRaw, err := randomHex(32)
	if err != nil {
		return RotateResult{}, ErrRotationFailed
	}
	now := s.now().UTC()
	next := &model.RefreshToken{
		TokenHash: HashToken(newRaw),
		ExpiresAt: now.Add(s.ttl),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	var (
		csrfToken, family string
		prev              *csrf.Record
		generated         bool
	)
	err = s.repo.Rotate(ctx, HashToken(raw), userID, tenantID, next, now, func(f string) error {
		family = f
		snap, err := s.csrf.Snapshot(ctx, f)
		if err != nil {
			return err
		}
		prev = snap
		tok, err := s.csrf.Generate(ctx, f)
		if err != nil {
			return err
		}
		csrfToken, generated = tok, true
		return nil
	})
	if err != nil {
		if generated {
			if rerr := s.csrf.Restore(ctx, family, prev); rerr != nil {
				logger.Warn().Err(rerr).Str("family", family).Msg("could not restore csrf token after failed rotation")
			}
		}
		logger.Warn().Err(err).Uint64("user_id", userID).Msg("refresh token rotation failed")
		return RotateResult{}, ErrRotationFailed
	}
	return RotateResult{RawToken: newRaw, CSRFToken: csrfToken, Record: *next}, nil
}

// RevokeFamily revokes every token of family and drops its CSRF session.
func (s *RefreshStore) RevokeFamily(ctx context.Context, family string) (int64, error) {
	n, err := s.repo.RevokeFamily(ctx, family)
	if err != nil {
		return 0, err
	}
	s.destroyCSRF(ctx, family)
	return n, nil
}

// RevokeSession revokes one of userID's families.
func (s *RefreshStore) RevokeSession(ctx context.Context, userID uint64, family string) error {
	n, err := s.repo.RevokeFamilyForUser(ctx, family, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRefreshNotFound
	}
	s.destroyCSRF(ctx, family)
	return nil
}

// RevokeAllForUser revokes every family of userID and their CSRF sessions.
func (s *RefreshStore) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	families, err := s.repo.ActiveFamilies(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	n, err := s.repo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, f := range families {
		s.destroyCSRF(ctx, f)
	}
	return n, nil
}

// RevokeByHash revokes a single token by digest.
func (s *RefreshStore) RevokeByHash(ctx context.Context, tokenHash string) (int64, error) {
	return s.repo.RevokeByHash(ctx, tokenHash)
}

// RevokeByID revokes a single token owned by userID.
func (s *RefreshStore) RevokeByID(ctx context.Context, id, userID uint64) (int64, error) {
	return s.repo.RevokeByID(ctx, id, userID)
}

// Lookup finds raw without any reuse handling.  Logout uses it: presenting
// an old cookie on logout is not a theft signal.
func (s *RefreshStore) Lookup(ctx context.Context, raw string) (model.RefreshToken, error) {
	if raw == "" {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	lk, err := s.repo.FindByHash(ctx, HashToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return model.RefreshToken{}, ErrRefreshNotFound
	}
	return lk.Token, err
}

// ListSessions lists userID's live families; current marks the caller's own.
func (s *RefreshStore) ListSessions(ctx context.Context, userID uint64, current string) ([]model.Session, error) {
	sessions, err := s.repo.ListSessions(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].Family == current
	}
	return sessions, nil
}

// Cleanup deletes expired and revoked rows.  It runs from the maintenance
// job, never on the request path.
func (s *RefreshStore) Cleanup(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredOrRevoked(ctx, s.now())
}

func (s *RefreshStore) destroyCSRF(ctx context.Context, family string) {
	if err := s.csrf.Destroy(ctx, family); err != nil {
		logger.Warn().Err(err).Str("family", family).Msg("could not destroy csrf session")
	}
}

// record delivers an audit event without letting request cancellation or
// sink failures leak into the caller.
func record(ctx context.Context, a Auditor, entry model.AuditLog) {
	if a == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = model.SeverityInfo
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := a.Record(actx, entry); err != nil {
		logger.Warn().Err(err).Str("event", entry.Event).Msg("audit event dropped")
	}
}
