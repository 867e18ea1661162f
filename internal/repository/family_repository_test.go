package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

func TestFamilyEnsureReturnsExisting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewFamilyRepository(db)

	first := createFamily(t, db, "Chair", "mesh")
	assert.Equal(t, domain.DefaultExtension, first.Extension)

	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
		again, created, err := repo.EnsureTx(ctx, tx, &domain.AssetFamily{Name: "Chair", AssetType: "mesh"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.UUID, again.UUID)
		return nil
	})
	require.NoError(t, err)

	// Same name with another type is a different family.
	other := createFamily(t, db, "Chair", "material")
	assert.NotEqual(t, first.UUID, other.UUID)
}

func TestFamilyGetMissing(t *testing.T) {
	db := newTestDB(t)
	_, err := NewFamilyRepository(db).GetByUUID(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	found, err := NewFamilyRepository(db).FindByName(context.Background(), "nope", "mesh")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFamilyListFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewFamilyRepository(db)

	chair := createFamily(t, db, "Chair", "mesh")
	createFamily(t, db, "Wood", "material")
	lamp := createFamily(t, db, "Lamp", "mesh")

	require.NoError(t, WithTx(ctx, db, func(tx *sqlx.Tx) error {
		return repo.SetRetiredTx(ctx, tx, lamp.UUID, true)
	}))

	all, err := repo.List(ctx, domain.FamilyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	meshes, err := repo.List(ctx, domain.FamilyFilter{AssetType: "mesh", IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, meshes, 2)

	tag, err := NewTagRepository(db).Ensure(ctx, "props")
	require.NoError(t, err)
	require.NoError(t, NewTagRepository(db).Attach(ctx, chair.UUID, tag.ID))

	tagged, err := repo.List(ctx, domain.FamilyFilter{Tag: "props"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, chair.UUID, tagged[0].UUID)
}
