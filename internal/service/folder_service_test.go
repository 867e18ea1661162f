package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/repository"
)

func newFolderService(t *testing.T, e *testEnv) *FolderService {
	return NewFolderService(
		repository.NewFolderRepository(e.db),
		repository.NewTagRepository(e.db),
		e.families,
		zaptest.NewLogger(t),
	)
}

func TestFolderTree(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	svc := newFolderService(t, e)
	ctx := context.Background()

	props, err := svc.CreateFolder(ctx, "Props", nil)
	require.NoError(t, err)
	assert.Equal(t, "/Props", props.Path)

	weapons, err := svc.CreateFolder(ctx, " Weapons ", &props.ID)
	require.NoError(t, err)
	assert.Equal(t, "/Props/Weapons", weapons.Path)

	_, err = svc.CreateFolder(ctx, "Weapons", &props.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = svc.CreateFolder(ctx, "a/b", nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	require.NoError(t, svc.RenameFolder(ctx, props.ID, "Set"))
	folders, err := svc.ListFolders(ctx)
	require.NoError(t, err)
	paths := []string{}
	for _, f := range folders {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"/Set", "/Set/Weapons"}, paths)

	err = svc.MoveFolder(ctx, props.ID, &weapons.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	require.NoError(t, svc.MoveFolder(ctx, weapons.ID, nil))
	content, err := svc.GetContent(ctx, props.ID)
	require.NoError(t, err)
	assert.Empty(t, content.Subfolders)
}

func TestFolderMembershipAndTags(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	svc := newFolderService(t, e)
	ctx := context.Background()

	sword := e.publish(t, "Sword", "Base", "one")
	e.publish(t, "Shield", "Base", "two")

	props, err := svc.CreateFolder(ctx, "Props", nil)
	require.NoError(t, err)
	require.NoError(t, svc.AddFamily(ctx, props.ID, sword.FamilyUUID))
	require.NoError(t, svc.AddFamily(ctx, props.ID, sword.FamilyUUID))

	err = svc.AddFamily(ctx, props.ID, [16]byte{3})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	content, err := svc.GetContent(ctx, props.ID)
	require.NoError(t, err)
	require.Len(t, content.Families, 1)
	assert.Equal(t, "Sword", content.Families[0].Name)

	families, err := e.svc.ListFamilies(ctx, domain.FamilyFilter{FolderID: &props.ID})
	require.NoError(t, err)
	require.Len(t, families, 1)

	tag, err := svc.AddTag(ctx, sword.FamilyUUID, "hero")
	require.NoError(t, err)
	assert.Equal(t, "hero", tag.Name)
	_, err = svc.AddTag(ctx, sword.FamilyUUID, "  ")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	families, err = e.svc.ListFamilies(ctx, domain.FamilyFilter{Tag: "hero"})
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, sword.FamilyUUID, families[0].UUID)

	require.NoError(t, svc.RemoveTag(ctx, sword.FamilyUUID, "hero"))
	tags, err := svc.ListTags(ctx, sword.FamilyUUID)
	require.NoError(t, err)
	assert.Empty(t, tags)
	all, err := svc.AllTags(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Deleting the folder keeps the family.
	require.NoError(t, svc.DeleteFolder(ctx, props.ID))
	_, err = e.svc.GetFamily(ctx, sword.FamilyUUID)
	require.NoError(t, err)
}
