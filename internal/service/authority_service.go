package service

import (
	"context"

	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/repository"
)

// AuthorityService exposes the operation mode policy. The engine provides
// both retire and purge; the mode decides which one callers may use.
type AuthorityService struct {
	settings *repository.SettingsRepository
	log      *zap.Logger
}

func NewAuthorityService(settings *repository.SettingsRepository, log *zap.Logger) *AuthorityService {
	return &AuthorityService{settings: settings, log: loggerOrNop(log).Named("authority")}
}

// Mode returns the stored mode, standalone when unset or unrecognized.
func (s *AuthorityService) Mode(ctx context.Context) (domain.OperationMode, error) {
	value, ok, err := s.settings.Get(ctx, domain.SettingOperationMode)
	if err != nil {
		return "", err
	}
	if !ok {
		return domain.ModeStandalone, nil
	}
	mode, valid := domain.ParseOperationMode(value)
	if !valid {
		s.log.Warn("unknown operation mode stored; using standalone", zap.String("value", value))
		return domain.ModeStandalone, nil
	}
	return mode, nil
}

func (s *AuthorityService) SetMode(ctx context.Context, mode domain.OperationMode) error {
	if _, ok := domain.ParseOperationMode(string(mode)); !ok {
		return apperr.Invalid("set mode", "unknown operation mode %q", mode)
	}
	if err := s.settings.Set(ctx, domain.SettingOperationMode, string(mode)); err != nil {
		return err
	}
	s.log.Info("operation mode changed", zap.String("mode", string(mode)))
	return nil
}

// CanDelete reports whether permanent deletion is allowed.
func (s *AuthorityService) CanDelete(ctx context.Context) (bool, error) {
	mode, err := s.Mode(ctx)
	return mode == domain.ModeStandalone, err
}

// CanEditStatus reports whether users may change version status directly.
// Outside standalone the pipeline owns status.
func (s *AuthorityService) CanEditStatus(ctx context.Context) (bool, error) {
	mode, err := s.Mode(ctx)
	return mode == domain.ModeStandalone, err
}
