package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/clinic-api/internal/model"
)

// AuditFilter narrows List.  Zero values mean "any".
type AuditFilter struct {
	UserID uint64
	Event  string
	Limit  int
	Offset int
}

type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Record appends a security event.
func (r *AuditRepo) Record(ctx context.Context, l model.AuditLog) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_logs (tenant_id, user_id, event, severity, ip, user_agent, detail, occurred_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		l.TenantID, nullableID(l.UserID), l.Event, l.Severity, l.IP, l.UserAgent, l.Detail, l.OccurredAt.UTC())
	return err
}

// List returns a tenant's events, newest first.
func (r *AuditRepo) List(ctx context.Context, tenantID uint64, f AuditFilter) ([]model.AuditLog, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Event != "" {
		where = append(where, "event = ?")
		args = append(args, f.Event)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, tenant_id, COALESCE(user_id, 0), event, severity, ip, user_agent, detail, occurred_at
		   FROM audit_logs WHERE `+strings.Join(where, " AND ")+`
		  ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditLog{}
	for rows.Next() {
		var l model.AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UserID, &l.Event, &l.Severity, &l.IP, &l.UserAgent, &l.Detail, &l.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullableID(id uint64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}
