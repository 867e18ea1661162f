package service

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
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

type VersionOptions struct {
	DefaultVariant   string
	DefaultExtension string
	// ArchiveOnPublish moves the superseded version to cold storage right
	// after a publish.
	ArchiveOnPublish bool
}

// VersionService allocates immutable versions and keeps exactly one current
// version per family/variant.
type VersionService struct {
	db       *sqlx.DB
	families *repository.FamilyRepository
	versions *repository.VersionRepository
	locker   scopeLocker
	resolver *layout.Resolver
	cold     *ColdStorageService
	refs     *ReferenceService
	bus      EventPublisher
	log      *zap.Logger
	opts     VersionOptions
}

func NewVersionService(
	db *sqlx.DB,
	families *repository.FamilyRepository,
	versions *repository.VersionRepository,
	locks *repository.LockRepository,
	resolver *layout.Resolver,
	cold *ColdStorageService,
	refs *ReferenceService,
	bus EventPublisher,
	log *zap.Logger,
	opts VersionOptions,
) *VersionService {
	if opts.DefaultVariant == "" {
		opts.DefaultVariant = domain.DefaultVariant
	}
	if opts.DefaultExtension == "" {
		opts.DefaultExtension = domain.DefaultExtension
	}
	log = loggerOrNop(log).Named("versions")
	return &VersionService{
		db:       db,
		families: families,
		versions: versions,
		locker:   newScopeLocker(locks, log),
		resolver: resolver,
		cold:     cold,
		refs:     refs,
		bus:      publisherOrNop(bus),
		log:      log,
		opts:     opts,
	}
}

func (s *VersionService) normalize(req *domain.PublishRequest) error {
	req.FamilyName = strings.TrimSpace(req.FamilyName)
	req.AssetType = strings.ToLower(strings.TrimSpace(req.AssetType))
	req.Variant = strings.TrimSpace(req.Variant)
	req.Extension = strings.TrimPrefix(strings.TrimSpace(req.Extension), ".")

	if req.FamilyName == "" {
		return apperr.Invalid("publish", "family name is required")
	}
	if req.AssetType == "" {
		return apperr.Invalid("publish", "asset type is required")
	}
	if req.Payload == nil {
		return apperr.Invalid("publish", "payload is required")
	}
	if req.Variant == "" {
		req.Variant = s.opts.DefaultVariant
	}
	if req.Extension == "" {
		req.Extension = s.opts.DefaultExtension
	}

	status, err := domain.ParseStatus(string(req.Status))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInvalid, "publish", "status")
	}
	rep, err := domain.ParseRepresentation(string(req.Representation))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInvalid, "publish", "representation")
	}
	req.Status = status
	req.Representation = rep
	if req.Stats == nil {
		req.Stats = domain.Stats{}
	}
	return nil
}

// Publish registers a new version with number max+1 for its family/variant.
// The number is chosen before the scope is locked and re-checked inside the
// write transaction; losing that race yields a Conflict error and nothing is
// written.
func (s *VersionService) Publish(ctx context.Context, req domain.PublishRequest) (*domain.AssetVersion, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	next := 1
	family, err := s.families.FindByName(ctx, req.FamilyName, req.AssetType)
	if err != nil {
		return nil, err
	}
	if family != nil {
		highest, err := s.versions.MaxVersionNumber(ctx, s.db, family.UUID, req.Variant)
		if err != nil {
			return nil, err
		}
		next = highest + 1
	}
	return s.publishAt(ctx, req, next)
}

// publishAt publishes expecting the given version number.
func (s *VersionService) publishAt(ctx context.Context, req domain.PublishRequest, number int) (*domain.AssetVersion, error) {
	ref := domain.VersionRef{
		FamilyName: req.FamilyName,
		AssetType:  req.AssetType,
		Variant:    req.Variant,
		Number:     number,
		Extension:  req.Extension,
	}
	payloadRel := s.resolver.Payload(ref, domain.TierActive)
	stageDir := s.resolver.Abs(path.Dir(payloadRel))

	payload, err := fileops.Stage(stageDir, req.Payload)
	if err != nil {
		return nil, err
	}
	defer payload.Discard()

	var (
		thumbnail    *fileops.Staged
		thumbnailRel string
	)
	if req.Thumbnail != nil {
		thumbnailRel = s.resolver.Thumbnail(ref, domain.TierActive)
		if thumbnail, err = fileops.Stage(stageDir, req.Thumbnail); err != nil {
			return nil, err
		}
		defer thumbnail.Discard()
	}

	// Publishes of one family serialize on its name. Once the family exists
	// they also hold the variant's tier scope, so no retire or restore runs
	// between the checks below and the commit.
	nameLock, err := s.locker.lockKeys(ctx, publishKey(req.FamilyName, req.AssetType))
	if err != nil {
		return nil, err
	}
	defer nameLock.release()

	var scopeLock *heldScope
	existing, err := s.families.FindByName(ctx, req.FamilyName, req.AssetType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if scopeLock, err = s.locker.lock(ctx, existing.UUID, req.Variant); err != nil {
			return nil, err
		}
		defer scopeLock.release()
	}

	var (
		created  domain.AssetVersion
		previous *domain.AssetVersion
		family   *domain.AssetFamily
		written  []string
	)
	err = repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := nameLock.verifyTx(ctx, tx); err != nil {
			return err
		}
		if err := scopeLock.verifyTx(ctx, tx); err != nil {
			return err
		}

		var err error
		family, _, err = s.families.EnsureTx(ctx, tx, &domain.AssetFamily{
			Name:        req.FamilyName,
			AssetType:   req.AssetType,
			Description: req.Description,
			Extension:   req.Extension,
		})
		if err != nil {
			return err
		}

		live, retired, err := s.versions.ScopeCounts(ctx, tx, family.UUID, req.Variant)
		if err != nil {
			return err
		}
		if live == 0 && (retired > 0 || family.IsRetired) {
			return apperr.Invalid("publish", "%s %s is retired; restore it first", family.Name, req.Variant)
		}

		highest, err := s.versions.MaxVersionNumber(ctx, tx, family.UUID, req.Variant)
		if err != nil {
			return err
		}
		if highest+1 != number {
			return apperr.Conflict("publish", "version %d of %s %s was taken by a concurrent publish", number, family.Name, req.Variant)
		}

		if previous, err = s.versions.GetLatest(ctx, tx, family.UUID, req.Variant); err != nil {
			return err
		}
		if err := s.versions.ClearLatestTx(ctx, tx, family.UUID, req.Variant); err != nil {
			return err
		}

		now := time.Now().UTC()
		created = domain.AssetVersion{
			ID:             uuid.New(),
			FamilyUUID:     family.UUID,
			Variant:        req.Variant,
			VersionNumber:  number,
			VersionLabel:   layout.VersionLabel(number),
			Tier:           domain.TierActive,
			PayloadPath:    payloadRel,
			ThumbnailPath:  thumbnailRel,
			FileExt:        req.Extension,
			SizeBytes:      payload.Size(),
			Stats:          req.Stats,
			Status:         req.Status,
			Representation: req.Representation,
			IsLatest:       true,
			CreatedAt:      now,
			ModifiedAt:     now,
		}
		if err := s.versions.InsertTx(ctx, tx, &created); err != nil {
			return err
		}

		// Files reach their canonical names only once the row is in place;
		// a rollback below removes them again.
		if err := payload.Commit(s.resolver.Abs(payloadRel)); err != nil {
			return err
		}
		written = append(written, payloadRel)
		if thumbnail != nil {
			if err := thumbnail.Commit(s.resolver.Abs(thumbnailRel)); err != nil {
				return err
			}
			written = append(written, thumbnailRel)
		}
		return nil
	})
	if err != nil {
		for _, rel := range written {
			if rerr := fileops.Remove(s.resolver.Abs(rel)); rerr != nil {
				s.log.Warn("failed to remove file of rolled back publish", zap.String("path", rel), zap.Error(rerr))
			}
		}
	}
	// Sync and archive below take the scope lock themselves.
	scopeLock.release()
	nameLock.release()
	if err != nil {
		return nil, err
	}

	s.log.Info("version published",
		zap.String("family", family.Name),
		zap.String("type", family.AssetType),
		zap.String("variant", created.Variant),
		zap.String("version", created.VersionLabel),
		zap.String("actor", req.Actor))
	s.bus.Publish(domain.Event{
		Type:       domain.EventVersionPublished,
		FamilyUUID: family.UUID,
		Variant:    created.Variant,
		VersionID:  &created.ID,
		Tier:       created.Tier,
	})

	if err := s.refs.Sync(ctx, domain.Scope{FamilyUUID: family.UUID, Variant: created.Variant}); err != nil {
		s.log.Warn("proxy sync after publish failed", zap.Stringer("version", created.ID), zap.Error(err))
	}

	if s.opts.ArchiveOnPublish && previous != nil && previous.Tier == domain.TierActive {
		if _, err := s.cold.Archive(ctx, previous.ID); err != nil {
			s.log.Warn("archiving superseded version failed; left in active tier",
				zap.Stringer("version", previous.ID), zap.Error(err))
		}
	}

	return &created, nil
}

// RestoreAsCurrent publishes a copy of an older version's payload as a new
// version. The old version is not modified.
func (s *VersionService) RestoreAsCurrent(ctx context.Context, versionID uuid.UUID, actor string) (*domain.AssetVersion, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	family, err := s.families.GetByUUID(ctx, v.FamilyUUID)
	if err != nil {
		return nil, err
	}

	// Open the files under the scope lock so a concurrent tier move cannot
	// pull them away between reading the row and opening them.
	held, err := s.locker.lock(ctx, family.UUID, v.Variant)
	if err != nil {
		return nil, err
	}
	payload, thumbnail, source, err := s.openSource(ctx, versionID)
	held.release()
	if err != nil {
		return nil, err
	}
	defer payload.Close()
	if thumbnail != nil {
		defer thumbnail.Close()
	}

	stats := domain.Stats{}
	for k, val := range source.Stats {
		stats[k] = val
	}
	req := domain.PublishRequest{
		FamilyName:     family.Name,
		AssetType:      family.AssetType,
		Variant:        source.Variant,
		Extension:      source.FileExt,
		Payload:        payload,
		Status:         source.Status,
		Representation: source.Representation,
		Stats:          stats,
		Actor:          actor,
	}
	if thumbnail != nil {
		req.Thumbnail = thumbnail
	}

	created, err := s.Publish(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Info("version restored as current",
		zap.String("family", family.Name),
		zap.String("from", source.VersionLabel),
		zap.String("to", created.VersionLabel))
	return created, nil
}

func (s *VersionService) openSource(ctx context.Context, versionID uuid.UUID) (io.ReadCloser, io.ReadCloser, *domain.AssetVersion, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if v.IsRetired {
		return nil, nil, nil, apperr.Invalid("restore as current", "version %s is retired; restore its scope first", v.ID)
	}

	payload, err := os.Open(s.resolver.Abs(v.PayloadPath))
	if err != nil {
		return nil, nil, nil, apperr.IO("restore as current", err)
	}
	if v.ThumbnailPath == "" {
		return payload, nil, v, nil
	}
	thumbnail, err := os.Open(s.resolver.Abs(v.ThumbnailPath))
	if err != nil {
		s.log.Warn("thumbnail missing; restoring without it", zap.String("path", v.ThumbnailPath), zap.Error(err))
		return payload, nil, v, nil
	}
	return payload, thumbnail, v, nil
}

func (s *VersionService) GetVersion(ctx context.Context, id uuid.UUID) (*domain.AssetVersion, error) {
	return s.versions.Get(ctx, id)
}

// ListVersions returns the versions of a family, or of one variant.
func (s *VersionService) ListVersions(ctx context.Context, familyUUID uuid.UUID, variant string, includeRetired bool) ([]domain.AssetVersion, error) {
	if _, err := s.families.GetByUUID(ctx, familyUUID); err != nil {
		return nil, err
	}
	return s.versions.ListScope(ctx, s.db, domain.Scope{FamilyUUID: familyUUID, Variant: variant}, includeRetired)
}

// GetLatest returns the current version or a NotFound error when the scope
// has none.
func (s *VersionService) GetLatest(ctx context.Context, familyUUID uuid.UUID, variant string) (*domain.AssetVersion, error) {
	if variant == "" {
		variant = s.opts.DefaultVariant
	}
	v, err := s.versions.GetLatest(ctx, s.db, familyUUID, variant)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("get latest", "no current version for family %s variant %s", familyUUID, variant)
	}
	return v, nil
}

func (s *VersionService) GetFamily(ctx context.Context, familyUUID uuid.UUID) (*domain.AssetFamily, error) {
	return s.families.GetByUUID(ctx, familyUUID)
}

func (s *VersionService) ListFamilies(ctx context.Context, filter domain.FamilyFilter) ([]domain.AssetFamily, error) {
	return s.families.List(ctx, filter)
}

func (s *VersionService) Variants(ctx context.Context, familyUUID uuid.UUID) ([]string, error) {
	return s.versions.Variants(ctx, s.db, familyUUID)
}

func (s *VersionService) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	return s.versions.SetFavorite(ctx, id, favorite)
}

func (s *VersionService) SetStatus(ctx context.Context, id uuid.UUID, status domain.Status) error {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return apperr.Wrap(err, apperr.KindInvalid, "set status", "status")
	}
	return s.versions.SetStatus(ctx, id, status)
}

func (s *VersionService) SetRepresentation(ctx context.Context, id uuid.UUID, rep domain.Representation) error {
	if _, err := domain.ParseRepresentation(string(rep)); err != nil {
		return apperr.Wrap(err, apperr.KindInvalid, "set representation", "representation")
	}
	return s.versions.SetRepresentation(ctx, id, rep)
}

func (s *VersionService) SetStats(ctx context.Context, id uuid.UUID, stats domain.Stats) error {
	return s.versions.SetStats(ctx, id, stats)
}

func (s *VersionService) UpdateDescription(ctx context.Context, familyUUID uuid.UUID, description string) error {
	return s.families.UpdateDescription(ctx, familyUUID, description)
}

// ThumbnailFile returns the absolute path of a version's thumbnail.
func (s *VersionService) ThumbnailFile(ctx context.Context, id uuid.UUID) (string, error) {
	v, err := s.versions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if v.ThumbnailPath == "" {
		return "", apperr.NotFound("thumbnail", "version %s has no thumbnail", id)
	}
	return s.resolver.Abs(v.ThumbnailPath), nil
}
