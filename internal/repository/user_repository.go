package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/clinic-api/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, tenant_id, role_id, username, encrypted_email, email_hash, password_hash,
	encrypted_full_name, encrypted_phone, status, deleted_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u       model.User
		deleted sql.NullTime
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.RoleID, &u.Username, &u.EncryptedEmail, &u.EmailHash, &u.PasswordHash,
		&u.EncryptedFullName, &u.EncryptedPhone, &u.Status, &deleted, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	return u, nil
}

// Create inserts u (already encrypted and hashed) and returns its ID.
// Duplicate usernames or email hashes inside the tenant yield ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (uint64, error) {
	u.Username = strings.TrimSpace(u.Username)
	if u.Status == "" {
		u.Status = model.UserActive
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (tenant_id, role_id, username, encrypted_email, email_hash, password_hash,
		                    encrypted_full_name, encrypted_phone, status)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		u.TenantID, u.RoleID, u.Username, u.EncryptedEmail, u.EmailHash, u.PasswordHash,
		u.EncryptedFullName, u.EncryptedPhone, u.Status)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = uint64(id)
	return u.ID, nil
}

// GetByUsername fetches a non-deleted user of a tenant.
func (r *UserRepo) GetByUsername(ctx context.Context, tenantID uint64, username string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE tenant_id = ? AND username = ? AND deleted_at IS NULL LIMIT 1",
		tenantID, strings.TrimSpace(username)))
}

// GetByEmailHash fetches a non-deleted user by the keyed hash of the email.
func (r *UserRepo) GetByEmailHash(ctx context.Context, tenantID uint64, emailHash string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE tenant_id = ? AND email_hash = ? AND deleted_at IS NULL LIMIT 1",
		tenantID, emailHash))
}

// GetByID fetches a user by id inside a tenant, including soft-deleted rows
// so callers can see why a session is no longer valid.
func (r *UserRepo) GetByID(ctx context.Context, tenantID, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE tenant_id = ? AND id = ? LIMIT 1",
		tenantID, id))
}

// UpdatePasswordHash replaces the stored bcrypt hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, tenantID, id uint64, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL",
		hash, time.Now().UTC(), tenantID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
