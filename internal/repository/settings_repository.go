package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/apperr"
)

type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored value and whether the key exists.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, r.db.Rebind(`SELECT value FROM app_setting WHERE key = ?`), key)
	if err != nil {
		if apperr.Is(mapErr("get setting", err), apperr.KindNotFound) {
			return "", false, nil
		}
		return "", false, mapErr("get setting", err)
	}
	return value, true, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := r.db.Rebind(`
        INSERT INTO app_setting (key, value) VALUES (?, ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	_, err := r.db.ExecContext(ctx, query, key, value)
	return mapErr("set setting", err)
}
