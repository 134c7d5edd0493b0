package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/clinic-api/internal/model"
)

type TenantRepo struct{ DB *sql.DB }

func NewTenantRepo(db *sql.DB) *TenantRepo { return &TenantRepo{DB: db} }

// GetByID fetches a tenant.
func (r *TenantRepo) GetByID(ctx context.Context, id uint64) (model.Tenant, error) {
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, name, is_active, created_at FROM tenants WHERE id = ? LIMIT 1",
		id).Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return model.Tenant{}, notFound(err)
	}
	return t, nil
}
