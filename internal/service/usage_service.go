package service

import (
	"context"
	"fmt"

	"assetlibrary/internal/domain"
	"assetlibrary/internal/repository"
)

type UsageService struct {
	versionRepo *repository.VersionRepository
}

func NewUsageService(versionRepo *repository.VersionRepository) *UsageService {
	return &UsageService{
		versionRepo: versionRepo,
	}
}

// UsageByTier reports bytes and version counts per storage tier. Tiers
// without versions are reported with zeros.
func (s *UsageService) UsageByTier(ctx context.Context) (*domain.UsageInfo, error) {
	rows, err := s.versionRepo.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	byTier := make(map[domain.Tier]domain.TierUsage, len(rows))
	for _, row := range rows {
		byTier[row.Tier] = row
	}

	info := &domain.UsageInfo{}
	for _, tier := range []domain.Tier{domain.TierActive, domain.TierArchive, domain.TierRetired} {
		u, ok := byTier[tier]
		if !ok {
			u = domain.TierUsage{Tier: tier}
		}
		info.Tiers = append(info.Tiers, u)
		info.TotalBytes += u.SizeBytes
	}
	return info, nil
}
