package service

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/fileops"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
)

// DefaultStagingGrace is how long a temp file may sit idle before the
// reconciler treats it as left behind by a crashed write.
const DefaultStagingGrace = time.Hour

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	IntegrityViolations []domain.Scope `json:"integrity_violations"`
	StaleRemoved        []string       `json:"stale_removed"`
	StagingRemoved      []string       `json:"staging_removed"`
	Archived            []uuid.UUID    `json:"archived"`
	Synced              int            `json:"synced"`
	Failures            []string       `json:"failures"`
}

// Reconciler repairs what interrupted transitions can leave behind: stale
// duplicate files, superseded versions still in the active tier and outdated
// proxies. Metadata invariant violations are reported, never fixed.
type Reconciler struct {
	db                *sqlx.DB
	families          *repository.FamilyRepository
	versions          *repository.VersionRepository
	locker            scopeLocker
	resolver          *layout.Resolver
	refs              *ReferenceService
	cold              *ColdStorageService
	archiveSuperseded bool
	stagingGrace      time.Duration
	log               *zap.Logger
}

func NewReconciler(
	db *sqlx.DB,
	families *repository.FamilyRepository,
	versions *repository.VersionRepository,
	locks *repository.LockRepository,
	resolver *layout.Resolver,
	refs *ReferenceService,
	cold *ColdStorageService,
	archiveSuperseded bool,
	log *zap.Logger,
) *Reconciler {
	log = loggerOrNop(log).Named("reconciler")
	return &Reconciler{
		db:                db,
		families:          families,
		versions:          versions,
		locker:            newScopeLocker(locks, log),
		resolver:          resolver,
		refs:              refs,
		cold:              cold,
		archiveSuperseded: archiveSuperseded,
		stagingGrace:      DefaultStagingGrace,
		log:               log,
	}
}

// Reconcile runs one pass. When invariant violations are found the report is
// still returned, together with an Integrity error.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{
		StartedAt:           time.Now().UTC(),
		IntegrityViolations: []domain.Scope{},
		StaleRemoved:        []string{},
		StagingRemoved:      []string{},
		Archived:            []uuid.UUID{},
		Failures:            []string{},
	}

	violations, err := r.versions.LatestViolations(ctx)
	if err != nil {
		return nil, err
	}
	broken := make(map[repository.ScopeKey]bool, len(violations))
	for _, v := range violations {
		broken[v] = true
		report.IntegrityViolations = append(report.IntegrityViolations, domain.Scope{FamilyUUID: v.FamilyUUID, Variant: v.Variant})
		r.log.Error("current version invariant violated",
			zap.Stringer("family", v.FamilyUUID), zap.String("variant", v.Variant))
	}

	scopes, err := r.versions.ListScopes(ctx)
	if err != nil {
		return nil, err
	}

	families := map[uuid.UUID]*domain.AssetFamily{}
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return report, apperr.Cancelled("reconcile", err)
		}

		family, ok := families[scope.FamilyUUID]
		if !ok {
			if family, err = r.families.GetByUUID(ctx, scope.FamilyUUID); err != nil {
				report.Failures = append(report.Failures, err.Error())
				continue
			}
			families[scope.FamilyUUID] = family
		}

		superseded, err := r.reconcileScope(ctx, family, scope.Variant, !broken[scope], report)
		if err != nil {
			report.Failures = append(report.Failures, err.Error())
			r.log.Warn("scope reconciliation failed",
				zap.String("family", family.Name), zap.String("variant", scope.Variant), zap.Error(err))
			continue
		}

		if !r.archiveSuperseded {
			continue
		}
		for _, id := range superseded {
			if _, err := r.cold.Archive(ctx, id); err != nil {
				report.Failures = append(report.Failures, err.Error())
				r.log.Warn("archiving superseded version failed", zap.Stringer("version", id), zap.Error(err))
				continue
			}
			report.Archived = append(report.Archived, id)
		}
	}

	staging, err := fileops.SweepStaging(r.resolver.Root(), time.Now().Add(-r.stagingGrace))
	report.StagingRemoved = append(report.StagingRemoved, staging...)
	for _, rel := range staging {
		r.log.Info("removed abandoned staging file", zap.String("path", rel))
	}
	if err != nil {
		report.Failures = append(report.Failures, err.Error())
		r.log.Warn("staging sweep failed", zap.Error(err))
	}

	report.FinishedAt = time.Now().UTC()
	r.log.Info("reconciliation finished",
		zap.Int("violations", len(report.IntegrityViolations)),
		zap.Int("stale_removed", len(report.StaleRemoved)),
		zap.Int("staging_removed", len(report.StagingRemoved)),
		zap.Int("archived", len(report.Archived)),
		zap.Int("synced", report.Synced),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	if len(violations) > 0 {
		return report, apperr.Integrity("reconcile", "%d family/variant scopes violate the current version invariant", len(violations))
	}
	return report, nil
}

// reconcileScope cleans one family/variant under its lock and returns the
// superseded versions still in the active tier.
func (r *Reconciler) reconcileScope(ctx context.Context, family *domain.AssetFamily, variant string, sync bool, report *ReconcileReport) ([]uuid.UUID, error) {
	held, err := r.locker.lock(ctx, family.UUID, variant)
	if err != nil {
		return nil, err
	}
	defer held.release()

	rows, err := r.versions.ListScope(ctx, r.db, domain.Scope{FamilyUUID: family.UUID, Variant: variant}, true)
	if err != nil {
		return nil, err
	}

	var superseded []uuid.UUID
	for i := range rows {
		v := &rows[i]
		report.StaleRemoved = append(report.StaleRemoved, r.removeStale(family, v)...)
		if v.Tier == domain.TierActive && !v.IsLatest && !v.IsRetired {
			superseded = append(superseded, v.ID)
		}
	}

	if sync {
		if err := r.refs.syncLocked(ctx, family, variant); err != nil {
			return superseded, err
		}
		report.Synced++
	}
	return superseded, nil
}

// removeStale deletes copies of a version's files found outside its tier.
func (r *Reconciler) removeStale(family *domain.AssetFamily, v *domain.AssetVersion) []string {
	ref := v.Ref(family)
	var candidates []string
	for _, tier := range []domain.Tier{domain.TierActive, domain.TierArchive, domain.TierRetired} {
		if tier == v.Tier {
			continue
		}
		candidates = append(candidates, r.resolver.Payload(ref, tier), r.resolver.Thumbnail(ref, tier))
		if tier == domain.TierArchive {
			candidates = append(candidates, r.resolver.ArchiveMeta(ref))
		}
	}

	var removed []string
	dirs := map[string]struct{}{}
	for _, rel := range candidates {
		if rel == v.PayloadPath || rel == v.ThumbnailPath {
			continue
		}
		abs := r.resolver.Abs(rel)
		if !fileops.Exists(abs) {
			continue
		}
		if err := fileops.Remove(abs); err != nil {
			r.log.Warn("failed to remove stale duplicate", zap.String("path", rel), zap.Error(err))
			continue
		}
		r.log.Info("removed stale duplicate", zap.String("path", rel), zap.Stringer("version", v.ID))
		removed = append(removed, rel)
		dirs[path.Dir(rel)] = struct{}{}
	}
	for dir := range dirs {
		fileops.PruneEmptyDirs(r.resolver.Abs(dir), r.resolver.Root())
	}
	return removed
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.log.Error("reconciliation pass failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
