package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
)

// RetireService soft-deletes families or single variants into the retired
// tier and restores them. Permanent deletion (Purge) is gated by the
// operation mode.
type RetireService struct {
	db        *sqlx.DB
	families  *repository.FamilyRepository
	versions  *repository.VersionRepository
	audit     *repository.AuditRepository
	locker    scopeLocker
	resolver  *layout.Resolver
	mover     mover
	refs      *ReferenceService
	authority *AuthorityService
	bus       EventPublisher
	log       *zap.Logger
}

func NewRetireService(
	db *sqlx.DB,
	families *repository.FamilyRepository,
	versions *repository.VersionRepository,
	audit *repository.AuditRepository,
	locks *repository.LockRepository,
	resolver *layout.Resolver,
	refs *ReferenceService,
	authority *AuthorityService,
	bus EventPublisher,
	log *zap.Logger,
) *RetireService {
	log = loggerOrNop(log).Named("retire")
	return &RetireService{
		db:        db,
		families:  families,
		versions:  versions,
		audit:     audit,
		locker:    newScopeLocker(locks, log),
		resolver:  resolver,
		mover:     mover{resolver: resolver, versions: versions, log: log},
		refs:      refs,
		authority: authority,
		bus:       publisherOrNop(bus),
		log:       log,
	}
}

// lockScope resolves the family and variants of scope and locks them all.
func (s *RetireService) lockScope(ctx context.Context, scope domain.Scope) (*domain.AssetFamily, []string, *heldScope, error) {
	family, err := s.families.GetByUUID(ctx, scope.FamilyUUID)
	if err != nil {
		return nil, nil, nil, err
	}

	variants, err := s.versions.Variants(ctx, s.db, family.UUID)
	if err != nil {
		return nil, nil, nil, err
	}
	if scope.Variant != "" {
		found := false
		for _, v := range variants {
			if v == scope.Variant {
				found = true
				break
			}
		}
		if !found {
			return nil, nil, nil, apperr.NotFound("scope", "family %s has no variant %s", family.Name, scope.Variant)
		}
		variants = []string{scope.Variant}
	}

	held, err := s.locker.lock(ctx, family.UUID, variants...)
	if err != nil {
		return nil, nil, nil, err
	}
	return family, variants, held, nil
}

// Retire moves every non-retired version of the scope to the retired tier.
// Retiring an already retired scope changes nothing.
func (s *RetireService) Retire(ctx context.Context, scope domain.Scope, actor string) error {
	family, variants, held, err := s.lockScope(ctx, scope)
	if err != nil {
		return err
	}
	defer held.release()

	live, err := s.versions.ListScope(ctx, s.db, scope, false)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		s.log.Debug("scope already retired", zap.String("family", family.Name), zap.String("variant", scope.Variant))
		return s.recordNoop(ctx, family, scope, actor, domain.AuditRetire)
	}

	var (
		moves   []fileMove
		ids     = make([]uuid.UUID, 0, len(live))
		updated = make([]domain.AssetVersion, 0, len(live))
		froms   = make([]domain.Tier, 0, len(live))
		now     = time.Now().UTC()
	)
	for _, v := range live {
		ids = append(ids, v.ID)
		vm, payload, thumbnail := versionMoves(s.resolver, &v, family, domain.TierRetired)
		moves = append(moves, vm...)
		if v.Tier == domain.TierArchive {
			moves = append(moves, fileMove{src: s.resolver.ArchiveMeta(v.Ref(family))})
		}

		froms = append(froms, v.Tier)
		v.Tier = domain.TierRetired
		v.PayloadPath = payload
		v.ThumbnailPath = thumbnail
		v.IsRetired = true
		v.IsLatest = false
		v.RetiredAt = &now
		v.ModifiedAt = now
		updated = append(updated, v)
	}

	b := &batch{family: family, ids: ids, moves: moves}
	if err := s.mover.copyAll(ctx, b); err != nil {
		return err
	}
	if err := s.mover.checkCancelled(ctx, "retire", b); err != nil {
		return err
	}

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := held.verifyTx(ctx, tx); err != nil {
			return err
		}
		// A variant created after lockScope is not covered by the lock.
		current, err := s.versions.ListScope(ctx, tx, scope, false)
		if err != nil {
			return err
		}
		if !sameVersions(current, live) {
			return apperr.Conflict("retire", "%s changed while it was being retired", describeScope(family, scope))
		}
		for i := range updated {
			if err := s.versions.MoveTierTx(ctx, tx, &updated[i], froms[i]); err != nil {
				return err
			}
		}

		remaining, err := s.versions.ListScope(ctx, tx, domain.Scope{FamilyUUID: family.UUID}, false)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := s.families.SetRetiredTx(ctx, tx, family.UUID, true); err != nil {
				return err
			}
		}

		return s.audit.AppendTx(ctx, tx, &domain.AuditRecord{
			Actor:  actor,
			Action: domain.AuditRetire,
			Scope:  describeScope(family, scope),
		})
	})
	if err != nil {
		s.mover.abandon(ctx, b)
		return err
	}

	s.mover.removeSources(moves)

	for _, variant := range variants {
		if err := s.refs.syncLocked(ctx, family, variant); err != nil {
			s.log.Warn("proxy sync after retire failed", zap.String("variant", variant), zap.Error(err))
		}
	}

	s.log.Info("scope retired",
		zap.String("family", family.Name),
		zap.String("variant", scope.Variant),
		zap.Int("versions", len(updated)),
		zap.String("actor", actor))
	s.bus.Publish(domain.Event{Type: domain.EventScopeRetired, FamilyUUID: family.UUID, Variant: scope.Variant, Tier: domain.TierRetired})
	return nil
}

// Restore moves the retired versions of the scope back to the active tier
// and makes the highest restored number current again.
func (s *RetireService) Restore(ctx context.Context, scope domain.Scope, actor string) error {
	family, variants, held, err := s.lockScope(ctx, scope)
	if err != nil {
		return err
	}
	defer held.release()

	retired, err := s.versions.ListRetired(ctx, s.db, scope)
	if err != nil {
		return err
	}
	if len(retired) == 0 {
		s.log.Debug("nothing to restore", zap.String("family", family.Name), zap.String("variant", scope.Variant))
		return s.recordNoop(ctx, family, scope, actor, domain.AuditRestore)
	}

	var (
		moves    []fileMove
		ids      = make([]uuid.UUID, 0, len(retired))
		restored = make([]domain.AssetVersion, 0, len(retired))
		now      = time.Now().UTC()
	)
	for _, v := range retired {
		ids = append(ids, v.ID)
		vm, payload, thumbnail := versionMoves(s.resolver, &v, family, domain.TierActive)
		moves = append(moves, vm...)

		v.Tier = domain.TierActive
		v.PayloadPath = payload
		v.ThumbnailPath = thumbnail
		v.IsRetired = false
		v.RetiredAt = nil
		v.ModifiedAt = now
		restored = append(restored, v)
	}

	b := &batch{family: family, ids: ids, moves: moves}
	if err := s.mover.copyAll(ctx, b); err != nil {
		return err
	}
	if err := s.mover.checkCancelled(ctx, "restore", b); err != nil {
		return err
	}

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := held.verifyTx(ctx, tx); err != nil {
			return err
		}
		for i := range restored {
			if err := s.versions.MoveTierTx(ctx, tx, &restored[i], domain.TierRetired); err != nil {
				return err
			}
		}
		for _, variant := range variants {
			if _, err := s.versions.RecomputeLatestTx(ctx, tx, family.UUID, variant); err != nil {
				return err
			}
		}
		if err := s.families.SetRetiredTx(ctx, tx, family.UUID, false); err != nil {
			return err
		}
		return s.audit.AppendTx(ctx, tx, &domain.AuditRecord{
			Actor:  actor,
			Action: domain.AuditRestore,
			Scope:  describeScope(family, scope),
		})
	})
	if err != nil {
		s.mover.abandon(ctx, b)
		return err
	}

	s.mover.removeSources(moves)

	for _, variant := range variants {
		if err := s.refs.syncLocked(ctx, family, variant); err != nil {
			s.log.Warn("proxy sync after restore failed", zap.String("variant", variant), zap.Error(err))
		}
	}

	s.log.Info("scope restored",
		zap.String("family", family.Name),
		zap.String("variant", scope.Variant),
		zap.Int("versions", len(restored)),
		zap.String("actor", actor))
	s.bus.Publish(domain.Event{Type: domain.EventScopeRestored, FamilyUUID: family.UUID, Variant: scope.Variant, Tier: domain.TierActive})
	return nil
}

// Purge permanently deletes the scope. Only allowed in standalone mode.
// Metadata goes first; files left behind by a failed removal are orphans, not
// dangling rows.
func (s *RetireService) Purge(ctx context.Context, scope domain.Scope, actor string) error {
	allowed, err := s.authority.CanDelete(ctx)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.Forbidden("purge", "permanent delete is disabled in this operation mode; retire instead")
	}

	family, variants, held, err := s.lockScope(ctx, scope)
	if err != nil {
		return err
	}
	defer held.release()

	all, err := s.versions.ListScope(ctx, s.db, scope, true)
	if err != nil {
		return err
	}

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := held.verifyTx(ctx, tx); err != nil {
			return err
		}
		if _, err := s.versions.DeleteScopeTx(ctx, tx, scope); err != nil {
			return err
		}
		if scope.Variant == "" {
			if err := s.families.DeleteTx(ctx, tx, family.UUID); err != nil {
				return err
			}
		}
		return s.audit.AppendTx(ctx, tx, &domain.AuditRecord{
			Actor:  actor,
			Action: domain.AuditPurge,
			Scope:  describeScope(family, scope),
		})
	})
	if err != nil {
		return err
	}

	var files []fileMove
	exts := map[string]struct{}{family.Extension: {}}
	for _, v := range all {
		files = append(files, fileMove{src: v.PayloadPath})
		if v.ThumbnailPath != "" {
			files = append(files, fileMove{src: v.ThumbnailPath})
		}
		if v.Tier == domain.TierArchive {
			files = append(files, fileMove{src: s.resolver.ArchiveMeta(v.Ref(family))})
		}
		exts[v.FileExt] = struct{}{}
	}
	for _, variant := range variants {
		for ext := range exts {
			files = append(files, fileMove{src: s.resolver.Proxy(family.Name, family.AssetType, variant, ext)})
		}
		files = append(files, fileMove{src: s.resolver.ProxyThumbnail(family.Name, family.AssetType, variant)})
	}
	s.mover.removeSources(files)

	s.log.Info("scope purged",
		zap.String("family", family.Name),
		zap.String("variant", scope.Variant),
		zap.Int("versions", len(all)),
		zap.String("actor", actor))
	s.bus.Publish(domain.Event{Type: domain.EventScopePurged, FamilyUUID: family.UUID, Variant: scope.Variant})
	return nil
}

// recordNoop audits a call that found nothing to move. Asset state is left
// exactly as it was.
func (s *RetireService) recordNoop(ctx context.Context, family *domain.AssetFamily, scope domain.Scope, actor string, action domain.AuditAction) error {
	return s.audit.Append(ctx, &domain.AuditRecord{
		Actor:  actor,
		Action: action,
		Scope:  describeScope(family, scope),
	})
}

func (s *RetireService) History(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	return s.audit.List(ctx, limit)
}

// sameVersions reports whether both listings hold the same rows.
func sameVersions(a, b []domain.AssetVersion) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[uuid.UUID]struct{}, len(a))
	for _, v := range a {
		ids[v.ID] = struct{}{}
	}
	for _, v := range b {
		if _, ok := ids[v.ID]; !ok {
			return false
		}
	}
	return true
}

func describeScope(family *domain.AssetFamily, scope domain.Scope) string {
	desc := family.AssetType + " " + family.Name + " (" + family.UUID.String() + ")"
	if scope.Variant != "" {
		desc += " variant " + scope.Variant
	}
	return desc
}
