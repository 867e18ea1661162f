package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/domain"
)

// AuditRepository exposes the audit log as append-only: no update or delete
// methods exist, and the schema rejects them with triggers.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, rec *domain.AuditRecord) error {
	return r.append(ctx, r.db, rec)
}

// AppendTx writes the record in the same transaction as the audited change.
func (r *AuditRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, rec *domain.AuditRecord) error {
	return r.append(ctx, tx, rec)
}

func (r *AuditRepository) append(ctx context.Context, q sqlx.ExtContext, rec *domain.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	query := q.Rebind(`
        INSERT INTO audit_log (actor, action, scope_description, timestamp)
        VALUES (?, ?, ?, ?)
        RETURNING id`)
	return mapErr("append audit", q.QueryRowxContext(ctx, query,
		rec.Actor, rec.Action, rec.Scope, rec.Timestamp).Scan(&rec.ID))
}

// List returns the newest records first. A non-positive limit returns all.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	records := []domain.AuditRecord{}
	query := `SELECT * FROM audit_log ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, mapErr("list audit", err)
	}
	return records, nil
}
