package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

type FolderRepository struct {
	db *sqlx.DB
}

func NewFolderRepository(db *sqlx.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

func childPath(parentPath, name string) string {
	if parentPath == "" || parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

func (r *FolderRepository) Create(ctx context.Context, folder *domain.Folder) error {
	return WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		path := childPath("", folder.Name)
		if folder.ParentID != nil {
			parent, err := r.getByID(ctx, tx, *folder.ParentID)
			if err != nil {
				return err
			}
			path = childPath(parent.Path, folder.Name)
		}

		folder.Path = path
		folder.CreatedAt = time.Now().UTC()

		query := tx.Rebind(`
            INSERT INTO folder (name, parent_id, path, created_at)
            VALUES (?, ?, ?, ?)
            RETURNING id`)
		err := tx.QueryRowxContext(ctx, query,
			folder.Name,
			folder.ParentID,
			folder.Path,
			folder.CreatedAt,
		).Scan(&folder.ID)
		return mapErr("create folder", err)
	})
}

func (r *FolderRepository) GetByID(ctx context.Context, id int64) (*domain.Folder, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *FolderRepository) getByID(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Folder, error) {
	var folder domain.Folder
	err := sqlx.GetContext(ctx, q, &folder, q.Rebind(`SELECT * FROM folder WHERE id = ?`), id)
	if err != nil {
		if apperr.Is(mapErr("get folder", err), apperr.KindNotFound) {
			return nil, apperr.NotFound("get folder", "folder %d does not exist", id)
		}
		return nil, mapErr("get folder", err)
	}
	return &folder, nil
}

// List returns every folder ordered by path, so parents precede children.
func (r *FolderRepository) List(ctx context.Context) ([]domain.Folder, error) {
	folders := []domain.Folder{}
	if err := r.db.SelectContext(ctx, &folders, `SELECT * FROM folder ORDER BY path`); err != nil {
		return nil, mapErr("list folders", err)
	}
	return folders, nil
}

// CheckNameExists reports whether a sibling with the same name exists.
func (r *FolderRepository) CheckNameExists(ctx context.Context, parentID *int64, name string, excludeID int64) (bool, error) {
	var exists bool
	var err error
	if parentID == nil {
		err = r.db.GetContext(ctx, &exists, r.db.Rebind(`
            SELECT EXISTS(SELECT 1 FROM folder WHERE parent_id IS NULL AND name = ? AND id <> ?)`),
			name, excludeID)
	} else {
		err = r.db.GetContext(ctx, &exists, r.db.Rebind(`
            SELECT EXISTS(SELECT 1 FROM folder WHERE parent_id = ? AND name = ? AND id <> ?)`),
			*parentID, name, excludeID)
	}
	if err != nil {
		return false, mapErr("check folder name", err)
	}
	return exists, nil
}

// Rename changes the folder name and rewrites the paths of all descendants.
func (r *FolderRepository) Rename(ctx context.Context, id int64, name string) error {
	return WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		folder, err := r.getByID(ctx, tx, id)
		if err != nil {
			return err
		}

		parentPath := ""
		if i := strings.LastIndex(folder.Path, "/"); i > 0 {
			parentPath = folder.Path[:i]
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE folder SET name = ? WHERE id = ?`), name, id)
		if err != nil {
			return mapErr("rename folder", err)
		}
		return r.rewritePaths(ctx, tx, folder.Path, childPath(parentPath, name))
	})
}

// Move reparents a folder. A nil parent moves it to the root. Moving a folder
// beneath itself is rejected.
func (r *FolderRepository) Move(ctx context.Context, id int64, parentID *int64) error {
	return WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return r.moveTx(ctx, tx, id, parentID)
	})
}

func (r *FolderRepository) moveTx(ctx context.Context, tx *sqlx.Tx, id int64, parentID *int64) error {
	folder, err := r.getByID(ctx, tx, id)
	if err != nil {
		return err
	}

	newPath := childPath("", folder.Name)
	if parentID != nil {
		parent, err := r.getByID(ctx, tx, *parentID)
		if err != nil {
			return err
		}
		if parent.ID == folder.ID || strings.HasPrefix(parent.Path, folder.Path+"/") {
			return apperr.Invalid("move folder", "cannot move folder %d into its own subtree", id)
		}
		newPath = childPath(parent.Path, folder.Name)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE folder SET parent_id = ? WHERE id = ?`), parentID, id)
	if err != nil {
		return mapErr("move folder", err)
	}
	return r.rewritePaths(ctx, tx, folder.Path, newPath)
}

// rewritePaths replaces the oldPath prefix of a folder and all its descendants.
func (r *FolderRepository) rewritePaths(ctx context.Context, tx *sqlx.Tx, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}

	var subtree []struct {
		ID   int64  `db:"id"`
		Path string `db:"path"`
	}
	query := tx.Rebind(`SELECT id, path FROM folder WHERE path = ? OR path LIKE ?`)
	if err := tx.SelectContext(ctx, &subtree, query, oldPath, oldPath+"/%"); err != nil {
		return mapErr("rewrite folder paths", err)
	}

	update := tx.Rebind(`UPDATE folder SET path = ? WHERE id = ?`)
	for _, f := range subtree {
		if f.Path != oldPath && !strings.HasPrefix(f.Path, oldPath+"/") {
			continue
		}
		if _, err := tx.ExecContext(ctx, update, newPath+strings.TrimPrefix(f.Path, oldPath), f.ID); err != nil {
			return mapErr("rewrite folder paths", err)
		}
	}
	return nil
}

// Delete removes a folder and its memberships. Its direct children move to
// the root.
func (r *FolderRepository) Delete(ctx context.Context, id int64) error {
	return WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := r.getByID(ctx, tx, id); err != nil {
			return err
		}

		var children []int64
		if err := tx.SelectContext(ctx, &children, tx.Rebind(`SELECT id FROM folder WHERE parent_id = ?`), id); err != nil {
			return mapErr("delete folder", err)
		}
		for _, child := range children {
			if err := r.moveTx(ctx, tx, child, nil); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM asset_folder_membership WHERE folder_id = ?`), id); err != nil {
			return mapErr("delete folder", err)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM folder WHERE id = ?`), id)
		return mapErr("delete folder", err)
	})
}

func (r *FolderRepository) AddFamily(ctx context.Context, folderID int64, familyUUID uuid.UUID) error {
	query := r.db.Rebind(`
        INSERT INTO asset_folder_membership (family_uuid, folder_id)
        VALUES (?, ?)
        ON CONFLICT (family_uuid, folder_id) DO NOTHING`)
	_, err := r.db.ExecContext(ctx, query, familyUUID, folderID)
	return mapErr("add family to folder", err)
}

func (r *FolderRepository) RemoveFamily(ctx context.Context, folderID int64, familyUUID uuid.UUID) error {
	query := r.db.Rebind(`DELETE FROM asset_folder_membership WHERE family_uuid = ? AND folder_id = ?`)
	_, err := r.db.ExecContext(ctx, query, familyUUID, folderID)
	return mapErr("remove family from folder", err)
}

// GetContent returns a folder with its direct subfolders and member families.
func (r *FolderRepository) GetContent(ctx context.Context, id int64) (*domain.FolderContent, error) {
	folder, err := r.getByID(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	subfolders := []domain.Folder{}
	err = r.db.SelectContext(ctx, &subfolders,
		r.db.Rebind(`SELECT * FROM folder WHERE parent_id = ? ORDER BY name`), id)
	if err != nil {
		return nil, mapErr("folder content", err)
	}

	families := []domain.AssetFamily{}
	err = r.db.SelectContext(ctx, &families, r.db.Rebind(`
        SELECT f.*
        FROM asset_family f
        JOIN asset_folder_membership m ON m.family_uuid = f.uuid
        WHERE m.folder_id = ?
        ORDER BY f.name`), id)
	if err != nil {
		return nil, mapErr("folder content", err)
	}

	return &domain.FolderContent{
		Folder:     *folder,
		Families:   families,
		Subfolders: subfolders,
	}, nil
}
