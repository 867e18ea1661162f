package service

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
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

// ArchiveMeta is the snapshot written next to an archived version so the
// archive directory is self-describing without the metadata store.
type ArchiveMeta struct {
	Family     domain.AssetFamily  `json:"family"`
	Version    domain.AssetVersion `json:"version"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// ColdStorageService moves superseded versions between the active and
// archive tiers. Every move copies first, commits the tier change, and only
// then deletes the original.
type ColdStorageService struct {
	db       *sqlx.DB
	families *repository.FamilyRepository
	versions *repository.VersionRepository
	locker   scopeLocker
	resolver *layout.Resolver
	mover    mover
	bus      EventPublisher
	log      *zap.Logger
}

func NewColdStorageService(
	db *sqlx.DB,
	families *repository.FamilyRepository,
	versions *repository.VersionRepository,
	locks *repository.LockRepository,
	resolver *layout.Resolver,
	bus EventPublisher,
	log *zap.Logger,
) *ColdStorageService {
	log = loggerOrNop(log).Named("cold-storage")
	return &ColdStorageService{
		db:       db,
		families: families,
		versions: versions,
		locker:   newScopeLocker(locks, log),
		resolver: resolver,
		mover:    mover{resolver: resolver, versions: versions, log: log},
		bus:      publisherOrNop(bus),
		log:      log,
	}
}

// Archive moves a non-current, non-retired version to the archive tier.
// Archiving an archived version is a no-op.
func (s *ColdStorageService) Archive(ctx context.Context, versionID uuid.UUID) (*domain.AssetVersion, error) {
	v, family, held, err := s.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer held.release()

	switch {
	case v.Tier == domain.TierArchive:
		return v, nil
	case v.IsRetired || v.Tier == domain.TierRetired:
		return nil, apperr.Invalid("archive", "version %s is retired", v.ID)
	case v.IsLatest:
		return nil, apperr.Invalid("archive", "version %s is the current version", v.ID)
	}

	moves, payload, thumbnail := versionMoves(s.resolver, v, family, domain.TierArchive)
	b := &batch{family: family, ids: []uuid.UUID{v.ID}, moves: moves}
	if err := s.mover.copyAll(ctx, b); err != nil {
		return nil, err
	}

	archived := *v
	archived.Tier = domain.TierArchive
	archived.PayloadPath = payload
	archived.ThumbnailPath = thumbnail
	archived.ModifiedAt = time.Now().UTC()

	metaPath := s.resolver.ArchiveMeta(v.Ref(family))
	b.written = append(b.written, metaPath)
	if err := s.writeMeta(metaPath, family, &archived); err != nil {
		s.mover.abandon(ctx, b)
		return nil, err
	}
	if err := s.mover.checkCancelled(ctx, "archive", b); err != nil {
		return nil, err
	}

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := held.verifyTx(ctx, tx); err != nil {
			return err
		}
		return s.versions.MoveTierTx(ctx, tx, &archived, domain.TierActive)
	})
	if err != nil {
		s.mover.abandon(ctx, b)
		return nil, err
	}

	s.mover.removeSources(moves)

	s.log.Info("version archived",
		zap.String("family", family.Name),
		zap.String("variant", v.Variant),
		zap.String("version", v.VersionLabel))
	s.bus.Publish(domain.Event{
		Type:       domain.EventVersionArchived,
		FamilyUUID: family.UUID,
		Variant:    v.Variant,
		VersionID:  &archived.ID,
		Tier:       archived.Tier,
	})
	return &archived, nil
}

// Promote moves an archived version back to the active tier. It does not
// change which version is current.
func (s *ColdStorageService) Promote(ctx context.Context, versionID uuid.UUID) (*domain.AssetVersion, error) {
	v, family, held, err := s.lockVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer held.release()

	switch {
	case v.Tier == domain.TierActive:
		return v, nil
	case v.IsRetired || v.Tier == domain.TierRetired:
		return nil, apperr.Invalid("promote", "version %s is retired", v.ID)
	}

	moves, payload, thumbnail := versionMoves(s.resolver, v, family, domain.TierActive)
	b := &batch{family: family, ids: []uuid.UUID{v.ID}, moves: moves}
	if err := s.mover.copyAll(ctx, b); err != nil {
		return nil, err
	}
	if err := s.mover.checkCancelled(ctx, "promote", b); err != nil {
		return nil, err
	}

	promoted := *v
	promoted.Tier = domain.TierActive
	promoted.PayloadPath = payload
	promoted.ThumbnailPath = thumbnail
	promoted.ModifiedAt = time.Now().UTC()

	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := held.verifyTx(ctx, tx); err != nil {
			return err
		}
		return s.versions.MoveTierTx(ctx, tx, &promoted, domain.TierArchive)
	})
	if err != nil {
		s.mover.abandon(ctx, b)
		return nil, err
	}

	// The snapshot goes with the archive copy.
	moves = append(moves, fileMove{src: s.resolver.ArchiveMeta(v.Ref(family))})
	s.mover.removeSources(moves)

	s.log.Info("version promoted",
		zap.String("family", family.Name),
		zap.String("variant", v.Variant),
		zap.String("version", v.VersionLabel))
	s.bus.Publish(domain.Event{
		Type:       domain.EventVersionPromoted,
		FamilyUUID: family.UUID,
		Variant:    v.Variant,
		VersionID:  &promoted.ID,
		Tier:       promoted.Tier,
	})
	return &promoted, nil
}

// lockVersion takes the scope lock of a version and re-reads the row under it.
func (s *ColdStorageService) lockVersion(ctx context.Context, versionID uuid.UUID) (*domain.AssetVersion, *domain.AssetFamily, *heldScope, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, nil, nil, err
	}
	family, err := s.families.GetByUUID(ctx, v.FamilyUUID)
	if err != nil {
		return nil, nil, nil, err
	}

	held, err := s.locker.lock(ctx, family.UUID, v.Variant)
	if err != nil {
		return nil, nil, nil, err
	}

	v, err = s.versions.Get(ctx, versionID)
	if err != nil {
		held.release()
		return nil, nil, nil, err
	}
	return v, family, held, nil
}

func (s *ColdStorageService) writeMeta(rel string, family *domain.AssetFamily, v *domain.AssetVersion) error {
	raw, err := json.MarshalIndent(ArchiveMeta{
		Family:     *family,
		Version:    *v,
		ArchivedAt: v.ModifiedAt,
	}, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.KindInvalid, "archive", "encode meta.json")
	}
	_, err = fileops.WriteAtomic(s.resolver.Abs(rel), bytes.NewReader(raw))
	return err
}

// ReadArchiveMeta loads the snapshot stored with an archived version.
func ReadArchiveMeta(resolver *layout.Resolver, ref domain.VersionRef) (*ArchiveMeta, error) {
	raw, err := os.ReadFile(resolver.Abs(resolver.ArchiveMeta(ref)))
	if err != nil {
		return nil, apperr.IO("read archive meta", err)
	}
	var meta ArchiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, apperr.Wrap(err, apperr.KindIntegrity, "read archive meta", "corrupt meta.json")
	}
	return &meta, nil
}
