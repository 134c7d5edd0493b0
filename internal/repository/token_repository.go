package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/clinic-api/internal/model"
)

// RefreshLookup is a refresh token row joined with its owner's state.
type RefreshLookup struct {
	Token       model.RefreshToken
	UserStatus  string
	UserDeleted bool
}

// TokenRepo persists refresh tokens.  Only token hashes are stored.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const insertRefresh = `INSERT INTO refresh_tokens
	(user_id, tenant_id, token_hash, family, expires_at, revoked, ip, user_agent, created_at)
	VALUES (?,?,?,?,?,0,?,?,?)`

// Insert stores t and sets its ID.  A hash collision with an existing row
// yields ErrConflict.
func (r *TokenRepo) Insert(ctx context.Context, t *model.RefreshToken) error {
	return insertToken(ctx, r.DB, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, t *model.RefreshToken) error {
	res, err := db.ExecContext(ctx, insertRefresh,
		t.UserID, t.TenantID, t.TokenHash, t.Family, t.ExpiresAt.UTC(), t.IP, t.UserAgent, t.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// FindByHash returns the row for tokenHash in whatever state it is in,
// together with the owning user's status.  Deciding whether the row is
// usable is left to the caller.
func (r *TokenRepo) FindByHash(ctx context.Context, tokenHash string) (RefreshLookup, error) {
	var out RefreshLookup
	t := &out.Token
	err := r.DB.QueryRowContext(ctx,
		`SELECT rt.id, rt.user_id, rt.tenant_id, rt.token_hash, rt.family, rt.expires_at, rt.revoked,
		        rt.ip, rt.user_agent, rt.created_at, u.status, u.deleted_at IS NOT NULL
		   FROM refresh_tokens rt
		   JOIN users u ON u.id = rt.user_id AND u.tenant_id = rt.tenant_id
		  WHERE rt.token_hash = ? LIMIT 1`,
		tokenHash).Scan(&t.ID, &t.UserID, &t.TenantID, &t.TokenHash, &t.Family, &t.ExpiresAt, &t.Revoked,
		&t.IP, &t.UserAgent, &t.CreatedAt, &out.UserStatus, &out.UserDeleted)
	if err != nil {
		return RefreshLookup{}, notFound(err)
	}
	return out, nil
}

// Rotate revokes the active token oldHash owned by userID/tenantID and
// inserts next into the same family inside one transaction.  beforeCommit
// runs after both statements succeeded and can still abort the rotation.
// If no active row matches (unknown, expired, or already rotated by a
// concurrent request) ErrNotFound is returned and nothing changes.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash string, userID, tenantID uint64, next *model.RefreshToken, now time.Time, beforeCommit func(family string) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		oldID  uint64
		family string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, family FROM refresh_tokens
		  WHERE token_hash = ? AND user_id = ? AND tenant_id = ? AND revoked = 0 AND expires_at > ?
		  FOR UPDATE`,
		oldHash, userID, tenantID, now.UTC()).Scan(&oldID, &family)
	if err != nil {
		return notFound(err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, oldID); err != nil {
		return err
	}

	next.UserID, next.TenantID, next.Family = userID, tenantID, family
	if err = insertToken(ctx, tx, next); err != nil {
		return err
	}
	if beforeCommit != nil {
		if err = beforeCommit(family); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// RevokeByHash marks a token as revoked.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) (int64, error) {
	return r.exec(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ? AND revoked = 0`, tokenHash)
}

// RevokeByID revokes a token owned by userID.
func (r *TokenRepo) RevokeByID(ctx context.Context, id, userID uint64) (int64, error) {
	return r.exec(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND user_id = ? AND revoked = 0`, id, userID)
}

// RevokeFamily revokes every token descended from one login.
func (r *TokenRepo) RevokeFamily(ctx context.Context, family string) (int64, error) {
	return r.exec(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE family = ? AND revoked = 0`, family)
}

// RevokeFamilyForUser revokes a family only when userID owns it.
func (r *TokenRepo) RevokeFamilyForUser(ctx context.Context, family string, userID uint64) (int64, error) {
	return r.exec(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE family = ? AND user_id = ? AND revoked = 0`, family, userID)
}

// RevokeAllForUser revokes all the user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	return r.exec(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
}

// ActiveFamilies lists the families with a live token for userID.
func (r *TokenRepo) ActiveFamilies(ctx context.Context, userID uint64, now time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT family FROM refresh_tokens WHERE user_id = ? AND revoked = 0 AND expires_at > ?`,
		userID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListSessions returns one entry per live family, newest first.
func (r *TokenRepo) ListSessions(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT rt.family, rt.ip, rt.user_agent, rt.created_at, rt.expires_at,
		        (SELECT MIN(f.created_at) FROM refresh_tokens f WHERE f.family = rt.family)
		   FROM refresh_tokens rt
		  WHERE rt.user_id = ? AND rt.revoked = 0 AND rt.expires_at > ?
		  ORDER BY rt.created_at DESC`,
		userID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Session{}
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.Family, &s.IP, &s.UserAgent, &s.LastUsed, &s.ExpiresAt, &s.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteExpiredOrRevoked removes rows that can never be used again.
func (r *TokenRepo) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE revoked = 1 OR expires_at <= ?`, now.UTC())
}

func (r *TokenRepo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
