package service

import (
	"context"
	"errors"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
	"assetlibrary/internal/service/s3"
)

const defaultMirrorParallelism = 4

// MirrorReport summarizes one offsite mirror pass.
type MirrorReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Uploaded   []string  `json:"uploaded"`
	Skipped    int       `json:"skipped"`
	Failures   []string  `json:"failures"`
}

// MirrorService copies the archive tier to an object store.
type MirrorService struct {
	families    *repository.FamilyRepository
	versions    *repository.VersionRepository
	resolver    *layout.Resolver
	store       s3.Storage
	prefix      string
	parallelism int
	log         *zap.Logger
}

func NewMirrorService(
	families *repository.FamilyRepository,
	versions *repository.VersionRepository,
	resolver *layout.Resolver,
	store s3.Storage,
	prefix string,
	parallelism int,
	log *zap.Logger,
) *MirrorService {
	if parallelism <= 0 {
		parallelism = defaultMirrorParallelism
	}
	return &MirrorService{
		families:    families,
		versions:    versions,
		resolver:    resolver,
		store:       store,
		prefix:      prefix,
		parallelism: parallelism,
		log:         loggerOrNop(log).Named("mirror"),
	}
}

// MirrorArchive uploads the payload, thumbnail and meta.json of every
// archived version. Objects already present with the same size are skipped.
// A failed file is reported and does not stop the pass.
func (s *MirrorService) MirrorArchive(ctx context.Context) (*MirrorReport, error) {
	const op = "mirror archive"
	report := &MirrorReport{StartedAt: time.Now().UTC(), Uploaded: []string{}, Failures: []string{}}

	versions, err := s.versions.ListByTier(ctx, domain.TierArchive)
	if err != nil {
		return nil, err
	}

	families := map[uuid.UUID]*domain.AssetFamily{}
	var files []string
	for i := range versions {
		v := &versions[i]
		f, ok := families[v.FamilyUUID]
		if !ok {
			f, err = s.families.GetByUUID(ctx, v.FamilyUUID)
			if err != nil {
				return nil, err
			}
			families[v.FamilyUUID] = f
		}
		files = append(files, v.PayloadPath)
		if v.ThumbnailPath != "" {
			files = append(files, v.ThumbnailPath)
		}
		files = append(files, s.resolver.ArchiveMeta(v.Ref(f)))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			uploaded, err := s.mirrorFile(gctx, rel)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("failed to mirror file", zap.String("path", rel), zap.Error(err))
				report.Failures = append(report.Failures, rel+": "+err.Error())
			case uploaded:
				report.Uploaded = append(report.Uploaded, rel)
			default:
				report.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Cancelled(op, err)
	}

	report.FinishedAt = time.Now().UTC()
	s.log.Info("mirror pass finished",
		zap.Int("uploaded", len(report.Uploaded)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)))
	return report, nil
}

// Run mirrors every interval until ctx is done.
func (s *MirrorService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.MirrorArchive(ctx); err != nil {
				s.log.Error("mirror pass failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ObjectKey maps a library-relative path to its key in the bucket.
func (s *MirrorService) ObjectKey(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return path.Join(s.prefix, rel)
}

func (s *MirrorService) mirrorFile(ctx context.Context, rel string) (bool, error) {
	info, err := os.Stat(s.resolver.Abs(rel))
	if errors.Is(err, os.ErrNotExist) {
		// Promoted or purged since the listing.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	key := s.ObjectKey(rel)
	size, exists, err := s.store.StatObject(ctx, key)
	if err != nil {
		return false, err
	}
	if exists && size == info.Size() {
		return false, nil
	}
	if err := s.store.PutFile(ctx, key, s.resolver.Abs(rel)); err != nil {
		return false, err
	}
	return true, nil
}
