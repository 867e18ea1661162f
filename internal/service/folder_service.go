package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/repository"
)

// FolderService manages the organizational folder tree and tags. Neither has
// any effect on where files live.
type FolderService struct {
	folderRepo *repository.FolderRepository
	tagRepo    *repository.TagRepository
	familyRepo *repository.FamilyRepository
	log        *zap.Logger
}

func NewFolderService(
	folderRepo *repository.FolderRepository,
	tagRepo *repository.TagRepository,
	familyRepo *repository.FamilyRepository,
	log *zap.Logger,
) *FolderService {
	return &FolderService{
		folderRepo: folderRepo,
		tagRepo:    tagRepo,
		familyRepo: familyRepo,
		log:        loggerOrNop(log).Named("folders"),
	}
}

func validFolderName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("folder", "folder name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", apperr.Invalid("folder", "folder name %q contains a path separator", name)
	}
	return name, nil
}

func (s *FolderService) CreateFolder(ctx context.Context, name string, parentID *int64) (*domain.Folder, error) {
	name, err := validFolderName(name)
	if err != nil {
		return nil, err
	}

	exists, err := s.folderRepo.CheckNameExists(ctx, parentID, name, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("create folder", "folder %q already exists here", name)
	}

	folder := &domain.Folder{Name: name, ParentID: parentID}
	if err := s.folderRepo.Create(ctx, folder); err != nil {
		return nil, err
	}
	s.log.Info("folder created", zap.Int64("id", folder.ID), zap.String("path", folder.Path))
	return folder, nil
}

func (s *FolderService) RenameFolder(ctx context.Context, id int64, name string) error {
	name, err := validFolderName(name)
	if err != nil {
		return err
	}
	folder, err := s.folderRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	exists, err := s.folderRepo.CheckNameExists(ctx, folder.ParentID, name, id)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("rename folder", "folder %q already exists here", name)
	}
	return s.folderRepo.Rename(ctx, id, name)
}

// MoveFolder reparents a folder; a nil parent moves it to the root.
func (s *FolderService) MoveFolder(ctx context.Context, id int64, parentID *int64) error {
	folder, err := s.folderRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	exists, err := s.folderRepo.CheckNameExists(ctx, parentID, folder.Name, id)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("move folder", "folder %q already exists in the target", folder.Name)
	}
	return s.folderRepo.Move(ctx, id, parentID)
}

// DeleteFolder removes the folder and its memberships only; member families
// stay and child folders move to the root.
func (s *FolderService) DeleteFolder(ctx context.Context, id int64) error {
	if err := s.folderRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("folder deleted", zap.Int64("id", id))
	return nil
}

func (s *FolderService) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	return s.folderRepo.List(ctx)
}

func (s *FolderService) GetContent(ctx context.Context, id int64) (*domain.FolderContent, error) {
	return s.folderRepo.GetContent(ctx, id)
}

func (s *FolderService) AddFamily(ctx context.Context, folderID int64, familyUUID uuid.UUID) error {
	if _, err := s.folderRepo.GetByID(ctx, folderID); err != nil {
		return err
	}
	if _, err := s.familyRepo.GetByUUID(ctx, familyUUID); err != nil {
		return err
	}
	return s.folderRepo.AddFamily(ctx, folderID, familyUUID)
}

func (s *FolderService) RemoveFamily(ctx context.Context, folderID int64, familyUUID uuid.UUID) error {
	return s.folderRepo.RemoveFamily(ctx, folderID, familyUUID)
}

// AddTag attaches a tag to a family, creating the tag when needed.
func (s *FolderService) AddTag(ctx context.Context, familyUUID uuid.UUID, name string) (*domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("add tag", "tag name is required")
	}
	if _, err := s.familyRepo.GetByUUID(ctx, familyUUID); err != nil {
		return nil, err
	}
	tag, err := s.tagRepo.Ensure(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.tagRepo.Attach(ctx, familyUUID, tag.ID); err != nil {
		return nil, err
	}
	return tag, nil
}

func (s *FolderService) RemoveTag(ctx context.Context, familyUUID uuid.UUID, name string) error {
	return s.tagRepo.Detach(ctx, familyUUID, strings.TrimSpace(name))
}

func (s *FolderService) ListTags(ctx context.Context, familyUUID uuid.UUID) ([]domain.Tag, error) {
	return s.tagRepo.ListForFamily(ctx, familyUUID)
}

func (s *FolderService) AllTags(ctx context.Context) ([]domain.Tag, error) {
	return s.tagRepo.List(ctx)
}
