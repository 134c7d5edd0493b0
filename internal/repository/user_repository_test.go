package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/clinic-api/internal/model"
)

func TestUserCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'uq_users_tenant_email'"})

	_, err = repo.Create(context.Background(), &model.User{TenantID: 5, RoleID: 1, Username: "a"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserCreateDefaultsActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(uint64(5), uint64(1), "alice", "enc", "hash", "pw", "encname", "", model.UserActive).
		WillReturnResult(sqlmock.NewResult(9, 1))

	u := &model.User{TenantID: 5, RoleID: 1, Username: " alice ", EncryptedEmail: "enc", EmailHash: "hash",
		PasswordHash: "pw", EncryptedFullName: "encname"}
	id, err := repo.Create(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), id)
	assert.Equal(t, uint64(9), u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserGetByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUserRepo(db)
	now := time.Now()

	cols := []string{"id", "tenant_id", "role_id", "username", "encrypted_email", "email_hash", "password_hash",
		"encrypted_full_name", "encrypted_phone", "status", "deleted_at", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = ? AND username = ?")).
		WithArgs(uint64(5), "alice").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(9, 5, 1, "alice", "e", "h", "pw", "n", "", "active", nil, now, now))

	u, err := repo.GetByUsername(context.Background(), 5, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), u.ID)
	assert.Nil(t, u.DeletedAt)
	assert.True(t, u.Active())

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = ? AND username = ?")).
		WithArgs(uint64(5), "bob").
		WillReturnRows(sqlmock.NewRows(cols))
	_, err = repo.GetByUsername(context.Background(), 5, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}
