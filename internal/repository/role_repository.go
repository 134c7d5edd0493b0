package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/clinic-api/internal/model"
)

type RoleRepo struct{ DB *sql.DB }

func NewRoleRepo(db *sql.DB) *RoleRepo { return &RoleRepo{DB: db} }

// Get loads a tenant's role with its permission names.
func (r *RoleRepo) Get(ctx context.Context, tenantID, roleID uint64) (model.Role, error) {
	role := model.Role{Permissions: []string{}}
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, tenant_id, name FROM roles WHERE id = ? AND tenant_id = ? LIMIT 1",
		roleID, tenantID).Scan(&role.ID, &role.TenantID, &role.Name)
	if err != nil {
		return model.Role{}, notFound(err)
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT permission FROM role_permissions WHERE role_id = ? ORDER BY permission",
		roleID)
	if err != nil {
		return model.Role{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return model.Role{}, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return model.Role{}, err
	}
	return role, nil
}
