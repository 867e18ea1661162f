package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

func mkFolder(t *testing.T, repo *FolderRepository, name string, parent *int64) *domain.Folder {
	t.Helper()
	f := &domain.Folder{Name: name, ParentID: parent}
	require.NoError(t, repo.Create(context.Background(), f))
	return f
}

func TestFolderPaths(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewFolderRepository(db)

	props := mkFolder(t, repo, "Props", nil)
	furniture := mkFolder(t, repo, "Furniture", &props.ID)
	chairs := mkFolder(t, repo, "Chairs", &furniture.ID)

	assert.Equal(t, "/Props", props.Path)
	assert.Equal(t, "/Props/Furniture", furniture.Path)
	assert.Equal(t, "/Props/Furniture/Chairs", chairs.Path)

	require.NoError(t, repo.Rename(ctx, props.ID, "Set"))
	got, err := repo.GetByID(ctx, chairs.ID)
	require.NoError(t, err)
	assert.Equal(t, "/Set/Furniture/Chairs", got.Path)

	require.NoError(t, repo.Move(ctx, furniture.ID, nil))
	got, err = repo.GetByID(ctx, chairs.ID)
	require.NoError(t, err)
	assert.Equal(t, "/Furniture/Chairs", got.Path)

	err = repo.Move(ctx, furniture.ID, &chairs.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestFolderRenameLeavesSiblingPrefixAlone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewFolderRepository(db)

	a := mkFolder(t, repo, "A", nil)
	ab := mkFolder(t, repo, "AB", nil)

	require.NoError(t, repo.Rename(ctx, a.ID, "Z"))
	got, err := repo.GetByID(ctx, ab.ID)
	require.NoError(t, err)
	assert.Equal(t, "/AB", got.Path)
}

func TestFolderDeleteReparentsChildren(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewFolderRepository(db)
	family := createFamily(t, db, "Chair", "mesh")

	parent := mkFolder(t, repo, "Props", nil)
	child := mkFolder(t, repo, "Chairs", &parent.ID)
	require.NoError(t, repo.AddFamily(ctx, parent.ID, family.UUID))
	require.NoError(t, repo.AddFamily(ctx, parent.ID, family.UUID))

	content, err := repo.GetContent(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, content.Families, 1)
	assert.Len(t, content.Subfolders, 1)

	require.NoError(t, repo.Delete(ctx, parent.ID))

	_, err = repo.GetByID(ctx, parent.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := repo.GetByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, "/Chairs", got.Path)

	// The family itself is untouched.
	_, err = NewFamilyRepository(db).GetByUUID(ctx, family.UUID)
	require.NoError(t, err)
}

func TestTagsAttachDetach(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTagRepository(db)
	family := createFamily(t, db, "Chair", "mesh")

	tag, err := repo.Ensure(ctx, "wood")
	require.NoError(t, err)
	again, err := repo.Ensure(ctx, "wood")
	require.NoError(t, err)
	assert.Equal(t, tag.ID, again.ID)

	require.NoError(t, repo.Attach(ctx, family.UUID, tag.ID))
	require.NoError(t, repo.Attach(ctx, family.UUID, tag.ID))

	tags, err := repo.ListForFamily(ctx, family.UUID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "wood", tags[0].Name)

	require.NoError(t, repo.Detach(ctx, family.UUID, "wood"))
	require.NoError(t, repo.Detach(ctx, family.UUID, "unknown"))
	tags, err = repo.ListForFamily(ctx, family.UUID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}
