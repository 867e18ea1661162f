package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

type FamilyRepository struct {
	db *sqlx.DB
}

func NewFamilyRepository(db *sqlx.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

func (r *FamilyRepository) GetByUUID(ctx context.Context, familyUUID uuid.UUID) (*domain.AssetFamily, error) {
	return r.getByUUID(ctx, r.db, familyUUID)
}

// GetByUUIDTx reads the family inside an open transaction.
func (r *FamilyRepository) GetByUUIDTx(ctx context.Context, tx *sqlx.Tx, familyUUID uuid.UUID) (*domain.AssetFamily, error) {
	return r.getByUUID(ctx, tx, familyUUID)
}

func (r *FamilyRepository) getByUUID(ctx context.Context, q sqlx.ExtContext, familyUUID uuid.UUID) (*domain.AssetFamily, error) {
	var family domain.AssetFamily
	query := q.Rebind(`SELECT * FROM asset_family WHERE uuid = ?`)
	if err := sqlx.GetContext(ctx, q, &family, query, familyUUID); err != nil {
		if apperr.Is(mapErr("get family", err), apperr.KindNotFound) {
			return nil, apperr.NotFound("get family", "family %s does not exist", familyUUID)
		}
		return nil, mapErr("get family", err)
	}
	return &family, nil
}

// FindByName returns nil without error when no family matches.
func (r *FamilyRepository) FindByName(ctx context.Context, name, assetType string) (*domain.AssetFamily, error) {
	var family domain.AssetFamily
	query := r.db.Rebind(`SELECT * FROM asset_family WHERE name = ? AND asset_type = ?`)
	err := r.db.GetContext(ctx, &family, query, name, assetType)
	if err != nil {
		if apperr.Is(mapErr("find family", err), apperr.KindNotFound) {
			return nil, nil
		}
		return nil, mapErr("find family", err)
	}
	return &family, nil
}

// EnsureTx returns the family with the given name and type, creating it when
// it does not exist yet.
func (r *FamilyRepository) EnsureTx(ctx context.Context, tx *sqlx.Tx, family *domain.AssetFamily) (*domain.AssetFamily, bool, error) {
	var existing domain.AssetFamily
	err := tx.GetContext(ctx, &existing,
		tx.Rebind(`SELECT * FROM asset_family WHERE name = ? AND asset_type = ?`),
		family.Name, family.AssetType)
	if err == nil {
		return &existing, false, nil
	}
	if !apperr.Is(mapErr("ensure family", err), apperr.KindNotFound) {
		return nil, false, mapErr("ensure family", err)
	}

	now := time.Now().UTC()
	if family.UUID == uuid.Nil {
		family.UUID = uuid.New()
	}
	if family.Extension == "" {
		family.Extension = domain.DefaultExtension
	}
	family.CreatedAt = now
	family.ModifiedAt = now

	query := tx.Rebind(`
        INSERT INTO asset_family (uuid, name, asset_type, description, extension, is_retired, created_at, modified_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, query,
		family.UUID,
		family.Name,
		family.AssetType,
		family.Description,
		family.Extension,
		false,
		family.CreatedAt,
		family.ModifiedAt,
	)
	if err != nil {
		return nil, false, mapErr("create family", err)
	}
	return family, true, nil
}

// SetRetiredTx flips the family-level retired flag.
func (r *FamilyRepository) SetRetiredTx(ctx context.Context, tx *sqlx.Tx, familyUUID uuid.UUID, retired bool) error {
	query := tx.Rebind(`UPDATE asset_family SET is_retired = ?, modified_at = ? WHERE uuid = ?`)
	_, err := tx.ExecContext(ctx, query, retired, time.Now().UTC(), familyUUID)
	return mapErr("set family retired", err)
}

func (r *FamilyRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, familyUUID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM asset_family WHERE uuid = ?`), familyUUID)
	return mapErr("delete family", err)
}

// UpdateDescription is an ordinary metadata edit: last write wins.
func (r *FamilyRepository) UpdateDescription(ctx context.Context, familyUUID uuid.UUID, description string) error {
	query := r.db.Rebind(`UPDATE asset_family SET description = ?, modified_at = ? WHERE uuid = ?`)
	res, err := r.db.ExecContext(ctx, query, description, time.Now().UTC(), familyUUID)
	if err != nil {
		return mapErr("update family", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("update family", "family %s does not exist", familyUUID)
	}
	return nil
}

func (r *FamilyRepository) List(ctx context.Context, filter domain.FamilyFilter) ([]domain.AssetFamily, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeRetired {
		where = append(where, "f.is_retired = ?")
		args = append(args, false)
	}
	if filter.AssetType != "" {
		where = append(where, "f.asset_type = ?")
		args = append(args, filter.AssetType)
	}
	if filter.FolderID != nil {
		where = append(where, "EXISTS (SELECT 1 FROM asset_folder_membership m WHERE m.family_uuid = f.uuid AND m.folder_id = ?)")
		args = append(args, *filter.FolderID)
	}
	if filter.Tag != "" {
		where = append(where, `EXISTS (
            SELECT 1 FROM asset_tag at JOIN tag t ON t.id = at.tag_id
            WHERE at.family_uuid = f.uuid AND t.name = ?)`)
		args = append(args, filter.Tag)
	}

	query := "SELECT f.* FROM asset_family f"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.name, f.asset_type"

	families := []domain.AssetFamily{}
	if err := r.db.SelectContext(ctx, &families, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list families: %w", mapErr("list families", err))
	}
	return families, nil
}
