package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/fileops"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
)

// ReferenceService keeps the {family}.current.{ext} proxy of every
// family/variant equal to the payload of its current version. The proxy is a
// byte copy written through temp file and rename; it is fully derived, so
// Sync may be re-run at any time.
type ReferenceService struct {
	db       *sqlx.DB
	families *repository.FamilyRepository
	versions *repository.VersionRepository
	locker   scopeLocker
	resolver *layout.Resolver
	bus      EventPublisher
	log      *zap.Logger
}

func NewReferenceService(
	db *sqlx.DB,
	families *repository.FamilyRepository,
	versions *repository.VersionRepository,
	locks *repository.LockRepository,
	resolver *layout.Resolver,
	bus EventPublisher,
	log *zap.Logger,
) *ReferenceService {
	log = loggerOrNop(log).Named("reference")
	return &ReferenceService{
		db:       db,
		families: families,
		versions: versions,
		locker:   newScopeLocker(locks, log),
		resolver: resolver,
		bus:      publisherOrNop(bus),
		log:      log,
	}
}

// Sync refreshes the proxy of one variant, or of every variant when
// scope.Variant is empty.
func (s *ReferenceService) Sync(ctx context.Context, scope domain.Scope) error {
	family, err := s.families.GetByUUID(ctx, scope.FamilyUUID)
	if err != nil {
		return err
	}

	variants := []string{scope.Variant}
	if scope.Variant == "" {
		if variants, err = s.versions.Variants(ctx, s.db, family.UUID); err != nil {
			return err
		}
	}

	held, err := s.locker.lock(ctx, family.UUID, variants...)
	if err != nil {
		return err
	}
	defer held.release()

	for _, variant := range variants {
		if err := s.syncLocked(ctx, family, variant); err != nil {
			return err
		}
	}
	return nil
}

// syncLocked expects the caller to hold the scope lock.
func (s *ReferenceService) syncLocked(ctx context.Context, family *domain.AssetFamily, variant string) error {
	latest, err := s.versions.GetLatest(ctx, s.db, family.UUID, variant)
	if err != nil {
		return err
	}

	all, err := s.versions.ListScope(ctx, s.db, domain.Scope{FamilyUUID: family.UUID, Variant: variant}, true)
	if err != nil {
		return err
	}
	exts := map[string]struct{}{family.Extension: {}}
	for _, v := range all {
		exts[v.FileExt] = struct{}{}
	}

	proxyThumb := s.resolver.ProxyThumbnail(family.Name, family.AssetType, variant)
	variantDir := s.resolver.VariantDir(family.Name, family.AssetType, variant)

	if latest == nil {
		for ext := range exts {
			s.removeProxy(s.resolver.Proxy(family.Name, family.AssetType, variant, ext))
		}
		s.removeProxy(proxyThumb)
		fileops.PruneEmptyDirs(s.resolver.Abs(variantDir), s.resolver.Root())
		s.log.Debug("proxy removed", zap.String("family", family.Name), zap.String("variant", variant))
		s.publish(family, variant, nil)
		return nil
	}

	if latest.Tier != domain.TierActive {
		s.log.Error("current version is not in the active tier",
			zap.Stringer("version", latest.ID), zap.String("tier", string(latest.Tier)))
		return apperr.Integrity("sync", "current version %s is in tier %s", latest.ID, latest.Tier)
	}

	proxy := s.resolver.Proxy(family.Name, family.AssetType, variant, latest.FileExt)
	if _, err := fileops.CopyVerified(s.resolver.Abs(latest.PayloadPath), s.resolver.Abs(proxy)); err != nil {
		return err
	}
	for ext := range exts {
		if other := s.resolver.Proxy(family.Name, family.AssetType, variant, ext); other != proxy {
			s.removeProxy(other)
		}
	}

	if latest.ThumbnailPath != "" {
		if _, err := fileops.CopyVerified(s.resolver.Abs(latest.ThumbnailPath), s.resolver.Abs(proxyThumb)); err != nil {
			return err
		}
	} else {
		s.removeProxy(proxyThumb)
	}

	s.log.Debug("proxy synced",
		zap.String("family", family.Name),
		zap.String("variant", variant),
		zap.String("version", latest.VersionLabel))
	s.publish(family, variant, latest)
	return nil
}

func (s *ReferenceService) removeProxy(rel string) {
	if err := fileops.Remove(s.resolver.Abs(rel)); err != nil {
		s.log.Warn("failed to remove proxy", zap.String("path", rel), zap.Error(err))
	}
}

func (s *ReferenceService) publish(family *domain.AssetFamily, variant string, latest *domain.AssetVersion) {
	ev := domain.Event{Type: domain.EventReferenceSynced, FamilyUUID: family.UUID, Variant: variant}
	if latest != nil {
		ev.VersionID = &latest.ID
		ev.Tier = latest.Tier
	}
	s.bus.Publish(ev)
}
