package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/domain"
)

type TagRepository struct {
	db *sqlx.DB
}

func NewTagRepository(db *sqlx.DB) *TagRepository {
	return &TagRepository{db: db}
}

// Ensure returns the tag with the given name, creating it on demand.
func (r *TagRepository) Ensure(ctx context.Context, name string) (*domain.Tag, error) {
	var tag domain.Tag
	err := WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO tag (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), name)
		if err != nil {
			return mapErr("ensure tag", err)
		}
		return mapErr("ensure tag", tx.GetContext(ctx, &tag, tx.Rebind(`SELECT * FROM tag WHERE name = ?`), name))
	})
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *TagRepository) List(ctx context.Context) ([]domain.Tag, error) {
	tags := []domain.Tag{}
	if err := r.db.SelectContext(ctx, &tags, `SELECT * FROM tag ORDER BY name`); err != nil {
		return nil, mapErr("list tags", err)
	}
	return tags, nil
}

func (r *TagRepository) Attach(ctx context.Context, familyUUID uuid.UUID, tagID int64) error {
	query := r.db.Rebind(`
        INSERT INTO asset_tag (family_uuid, tag_id) VALUES (?, ?)
        ON CONFLICT (family_uuid, tag_id) DO NOTHING`)
	_, err := r.db.ExecContext(ctx, query, familyUUID, tagID)
	return mapErr("attach tag", err)
}

// Detach removes the named tag from a family. Unknown names are a no-op.
func (r *TagRepository) Detach(ctx context.Context, familyUUID uuid.UUID, name string) error {
	query := r.db.Rebind(`
        DELETE FROM asset_tag
        WHERE family_uuid = ? AND tag_id IN (SELECT id FROM tag WHERE name = ?)`)
	_, err := r.db.ExecContext(ctx, query, familyUUID, name)
	return mapErr("detach tag", err)
}

func (r *TagRepository) ListForFamily(ctx context.Context, familyUUID uuid.UUID) ([]domain.Tag, error) {
	tags := []domain.Tag{}
	query := r.db.Rebind(`
        SELECT t.*
        FROM tag t
        JOIN asset_tag a ON a.tag_id = t.id
        WHERE a.family_uuid = ?
        ORDER BY t.name`)
	if err := r.db.SelectContext(ctx, &tags, query, familyUUID); err != nil {
		return nil, mapErr("list family tags", err)
	}
	return tags, nil
}
