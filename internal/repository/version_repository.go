package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

type VersionRepository struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	return tx, mapErr("begin transaction", err)
}

func (r *VersionRepository) DB() *sqlx.DB {
	return r.db
}

func (r *VersionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.AssetVersion, error) {
	return r.get(ctx, r.db, id)
}

func (r *VersionRepository) GetTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.AssetVersion, error) {
	return r.get(ctx, tx, id)
}

func (r *VersionRepository) get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*domain.AssetVersion, error) {
	var v domain.AssetVersion
	err := sqlx.GetContext(ctx, q, &v, q.Rebind(`SELECT * FROM asset_version WHERE id = ?`), id)
	if err != nil {
		if apperr.Is(mapErr("get version", err), apperr.KindNotFound) {
			return nil, apperr.NotFound("get version", "version %s does not exist", id)
		}
		return nil, mapErr("get version", err)
	}
	return &v, nil
}

// MaxVersionNumber includes archived and retired rows; numbers are never reused.
func (r *VersionRepository) MaxVersionNumber(ctx context.Context, q sqlx.ExtContext, familyUUID uuid.UUID, variant string) (int, error) {
	var max int
	query := q.Rebind(`
        SELECT COALESCE(MAX(version_number), 0)
        FROM asset_version
        WHERE family_uuid = ? AND variant = ?`)
	if err := sqlx.GetContext(ctx, q, &max, query, familyUUID, variant); err != nil {
		return 0, mapErr("max version", err)
	}
	return max, nil
}

// ScopeCounts returns the number of live and retired rows of a family/variant.
func (r *VersionRepository) ScopeCounts(ctx context.Context, q sqlx.ExtContext, familyUUID uuid.UUID, variant string) (live, retired int, err error) {
	var row struct {
		Live    int `db:"live"`
		Retired int `db:"retired"`
	}
	query := q.Rebind(`
        SELECT
            COALESCE(SUM(CASE WHEN is_retired THEN 0 ELSE 1 END), 0) AS live,
            COALESCE(SUM(CASE WHEN is_retired THEN 1 ELSE 0 END), 0) AS retired
        FROM asset_version
        WHERE family_uuid = ? AND variant = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, familyUUID, variant); err != nil {
		return 0, 0, mapErr("scope counts", err)
	}
	return row.Live, row.Retired, nil
}

func (r *VersionRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, v *domain.AssetVersion) error {
	query := tx.Rebind(`
        INSERT INTO asset_version (
            id, family_uuid, variant, version_number, version_label, tier,
            payload_path, thumbnail_path, file_ext, size_bytes, stats,
            status, representation, is_latest, is_favorite, is_retired,
            retired_at, created_at, modified_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, query,
		v.ID,
		v.FamilyUUID,
		v.Variant,
		v.VersionNumber,
		v.VersionLabel,
		v.Tier,
		v.PayloadPath,
		v.ThumbnailPath,
		v.FileExt,
		v.SizeBytes,
		v.Stats,
		v.Status,
		v.Representation,
		v.IsLatest,
		v.IsFavorite,
		v.IsRetired,
		v.RetiredAt,
		v.CreatedAt,
		v.ModifiedAt,
	)
	return mapErr("insert version", err)
}

// GetLatest returns nil without error when the scope has no current version.
func (r *VersionRepository) GetLatest(ctx context.Context, q sqlx.ExtContext, familyUUID uuid.UUID, variant string) (*domain.AssetVersion, error) {
	var versions []domain.AssetVersion
	query := q.Rebind(`
        SELECT * FROM asset_version
        WHERE family_uuid = ? AND variant = ? AND is_latest = ?`)
	if err := sqlx.SelectContext(ctx, q, &versions, query, familyUUID, variant, true); err != nil {
		return nil, mapErr("get latest", err)
	}
	switch len(versions) {
	case 0:
		return nil, nil
	case 1:
		return &versions[0], nil
	}
	return nil, apperr.Integrity("get latest", "%d current versions for family %s variant %s", len(versions), familyUUID, variant)
}

// ClearLatestTx drops the is_latest flag of a family/variant.
func (r *VersionRepository) ClearLatestTx(ctx context.Context, tx *sqlx.Tx, familyUUID uuid.UUID, variant string) error {
	query := tx.Rebind(`
        UPDATE asset_version
        SET is_latest = ?, modified_at = ?
        WHERE family_uuid = ? AND variant = ? AND is_latest = ?`)
	_, err := tx.ExecContext(ctx, query, false, time.Now().UTC(), familyUUID, variant, true)
	return mapErr("clear latest", err)
}

// RecomputeLatestTx marks the highest non-retired version as current and
// returns it, or nil when every version of the scope is retired.
func (r *VersionRepository) RecomputeLatestTx(ctx context.Context, tx *sqlx.Tx, familyUUID uuid.UUID, variant string) (*domain.AssetVersion, error) {
	if err := r.ClearLatestTx(ctx, tx, familyUUID, variant); err != nil {
		return nil, err
	}

	var top []domain.AssetVersion
	query := tx.Rebind(`
        SELECT * FROM asset_version
        WHERE family_uuid = ? AND variant = ? AND is_retired = ?
        ORDER BY version_number DESC
        LIMIT 1`)
	if err := tx.SelectContext(ctx, &top, query, familyUUID, variant, false); err != nil {
		return nil, mapErr("recompute latest", err)
	}
	if len(top) == 0 {
		return nil, nil
	}

	latest := top[0]
	latest.IsLatest = true
	latest.ModifiedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE asset_version SET is_latest = ?, modified_at = ? WHERE id = ?`),
		true, latest.ModifiedAt, latest.ID)
	if err != nil {
		return nil, mapErr("recompute latest", err)
	}
	return &latest, nil
}

// CountLatest backs the integrity check of the single-current-version invariant.
func (r *VersionRepository) CountLatest(ctx context.Context, q sqlx.ExtContext, familyUUID uuid.UUID, variant string) (int, error) {
	var n int
	query := q.Rebind(`SELECT COUNT(*) FROM asset_version WHERE family_uuid = ? AND variant = ? AND is_latest = ?`)
	if err := sqlx.GetContext(ctx, q, &n, query, familyUUID, variant, true); err != nil {
		return 0, mapErr("count latest", err)
	}
	return n, nil
}

// ListScope returns the versions of a family, or of one variant when
// scope.Variant is set, ordered by variant and number.
func (r *VersionRepository) ListScope(ctx context.Context, q sqlx.ExtContext, scope domain.Scope, includeRetired bool) ([]domain.AssetVersion, error) {
	query := `SELECT * FROM asset_version WHERE family_uuid = ?`
	args := []any{scope.FamilyUUID}
	if scope.Variant != "" {
		query += ` AND variant = ?`
		args = append(args, scope.Variant)
	}
	if !includeRetired {
		query += ` AND is_retired = ?`
		args = append(args, false)
	}
	query += ` ORDER BY variant, version_number`

	versions := []domain.AssetVersion{}
	if err := sqlx.SelectContext(ctx, q, &versions, q.Rebind(query), args...); err != nil {
		return nil, mapErr("list versions", err)
	}
	return versions, nil
}

// ListRetired returns the retired rows of a scope.
func (r *VersionRepository) ListRetired(ctx context.Context, q sqlx.ExtContext, scope domain.Scope) ([]domain.AssetVersion, error) {
	query := `SELECT * FROM asset_version WHERE family_uuid = ? AND is_retired = ?`
	args := []any{scope.FamilyUUID, true}
	if scope.Variant != "" {
		query += ` AND variant = ?`
		args = append(args, scope.Variant)
	}
	query += ` ORDER BY variant, version_number`

	versions := []domain.AssetVersion{}
	if err := sqlx.SelectContext(ctx, q, &versions, q.Rebind(query), args...); err != nil {
		return nil, mapErr("list retired", err)
	}
	return versions, nil
}

func (r *VersionRepository) Variants(ctx context.Context, q sqlx.ExtContext, familyUUID uuid.UUID) ([]string, error) {
	variants := []string{}
	query := q.Rebind(`SELECT DISTINCT variant FROM asset_version WHERE family_uuid = ? ORDER BY variant`)
	if err := sqlx.SelectContext(ctx, q, &variants, query, familyUUID); err != nil {
		return nil, mapErr("list variants", err)
	}
	return variants, nil
}

// MoveTierTx switches a row to another tier. The update only applies when the
// row is still in the expected tier; otherwise a concurrent move won and the
// result is a conflict.
func (r *VersionRepository) MoveTierTx(ctx context.Context, tx *sqlx.Tx, v *domain.AssetVersion, from domain.Tier) error {
	query := tx.Rebind(`
        UPDATE asset_version
        SET tier = ?, payload_path = ?, thumbnail_path = ?,
            is_latest = ?, is_retired = ?, retired_at = ?, modified_at = ?
        WHERE id = ? AND tier = ?`)
	res, err := tx.ExecContext(ctx, query,
		v.Tier,
		v.PayloadPath,
		v.ThumbnailPath,
		v.IsLatest,
		v.IsRetired,
		v.RetiredAt,
		v.ModifiedAt,
		v.ID,
		from,
	)
	if err != nil {
		return mapErr("move tier", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("move tier", err)
	}
	if n == 0 {
		return apperr.Conflict("move tier", "version %s is no longer in tier %s", v.ID, from)
	}
	return nil
}

func (r *VersionRepository) DeleteScopeTx(ctx context.Context, tx *sqlx.Tx, scope domain.Scope) (int64, error) {
	query := `DELETE FROM asset_version WHERE family_uuid = ?`
	args := []any{scope.FamilyUUID}
	if scope.Variant != "" {
		query += ` AND variant = ?`
		args = append(args, scope.Variant)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, mapErr("delete versions", err)
	}
	return res.RowsAffected()
}

func (r *VersionRepository) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	return r.updateField(ctx, "set favorite", `is_favorite`, favorite, id)
}

func (r *VersionRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.Status) error {
	return r.updateField(ctx, "set status", `status`, status, id)
}

func (r *VersionRepository) SetRepresentation(ctx context.Context, id uuid.UUID, rep domain.Representation) error {
	return r.updateField(ctx, "set representation", `representation`, rep, id)
}

func (r *VersionRepository) SetStats(ctx context.Context, id uuid.UUID, stats domain.Stats) error {
	return r.updateField(ctx, "set stats", `stats`, stats, id)
}

// updateField is used for ordinary metadata edits; last write wins.
func (r *VersionRepository) updateField(ctx context.Context, op, column string, value any, id uuid.UUID) error {
	query := r.db.Rebind(`UPDATE asset_version SET ` + column + ` = ?, modified_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return mapErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(op, "version %s does not exist", id)
	}
	return nil
}

// Usage aggregates size and count per tier.
func (r *VersionRepository) Usage(ctx context.Context) ([]domain.TierUsage, error) {
	usage := []domain.TierUsage{}
	query := `
        SELECT tier, COUNT(*) AS versions, COALESCE(SUM(size_bytes), 0) AS size_bytes
        FROM asset_version
        GROUP BY tier
        ORDER BY tier`
	if err := r.db.SelectContext(ctx, &usage, query); err != nil {
		return nil, mapErr("usage", err)
	}
	return usage, nil
}

// ListAll streams every version row; used by reconciliation.
func (r *VersionRepository) ListAll(ctx context.Context) ([]domain.AssetVersion, error) {
	versions := []domain.AssetVersion{}
	query := `SELECT * FROM asset_version ORDER BY family_uuid, variant, version_number`
	if err := r.db.SelectContext(ctx, &versions, query); err != nil {
		return nil, mapErr("list all versions", err)
	}
	return versions, nil
}

// ScopeKey identifies a family/variant pair.
type ScopeKey struct {
	FamilyUUID uuid.UUID `db:"family_uuid"`
	Variant    string    `db:"variant"`
}

// ListScopes returns every family/variant pair that has versions.
func (r *VersionRepository) ListScopes(ctx context.Context) ([]ScopeKey, error) {
	scopes := []ScopeKey{}
	query := `SELECT DISTINCT family_uuid, variant FROM asset_version ORDER BY family_uuid, variant`
	if err := r.db.SelectContext(ctx, &scopes, query); err != nil {
		return nil, mapErr("list scopes", err)
	}
	return scopes, nil
}

// LatestViolations lists scopes that break the current-version invariant:
// more than one current row, a current row that is not the highest live
// number, or live rows without any current row.
func (r *VersionRepository) LatestViolations(ctx context.Context) ([]ScopeKey, error) {
	scopes := []ScopeKey{}
	query := `
        SELECT family_uuid, variant
        FROM asset_version
        GROUP BY family_uuid, variant
        HAVING SUM(CASE WHEN is_latest THEN 1 ELSE 0 END) > 1
            OR MAX(CASE WHEN is_latest THEN version_number END)
               <> MAX(CASE WHEN is_retired THEN NULL ELSE version_number END)
            OR (SUM(CASE WHEN is_latest THEN 1 ELSE 0 END) = 0
                AND SUM(CASE WHEN is_retired THEN 0 ELSE 1 END) > 0)`
	if err := r.db.SelectContext(ctx, &scopes, query); err != nil {
		return nil, mapErr("latest violations", err)
	}
	return scopes, nil
}

// ListByTier returns every version stored in the given tier.
func (r *VersionRepository) ListByTier(ctx context.Context, tier domain.Tier) ([]domain.AssetVersion, error) {
	versions := []domain.AssetVersion{}
	query := `SELECT * FROM asset_version WHERE tier = ? ORDER BY family_uuid, variant, version_number`
	if err := r.db.SelectContext(ctx, &versions, r.db.Rebind(query), tier); err != nil {
		return nil, mapErr("list versions by tier", err)
	}
	return versions, nil
}
