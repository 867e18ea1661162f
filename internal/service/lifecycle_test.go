package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
)

func writeFile(t *testing.T, r *layout.Resolver, rel, content string) {
	t.Helper()
	abs := r.Abs(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestMoverCancelledDiscardsCopies(t *testing.T) {
	r := layout.NewResolver(t.TempDir())
	m := mover{resolver: r, log: zaptest.NewLogger(t)}
	writeFile(t, r, "library/a.blend", "a")
	writeFile(t, r, "library/a.png", "png")

	moves := []fileMove{
		{src: "library/a.blend", dst: "_archive/v001/a.blend"},
		{src: "library/a.png", dst: "_archive/v001/a.png"},
		{src: "library/meta.json"},
	}
	b := &batch{moves: moves, written: []string{"_archive/v001/meta.json"}}
	require.NoError(t, m.copyAll(context.Background(), b))
	assert.FileExists(t, r.Abs("_archive/v001/a.blend"))
	writeFile(t, r, "_archive/v001/meta.json", "{}")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.checkCancelled(ctx, "archive", b)
	require.Error(t, err)
	assert.Equal(t, apperr.KindCancelled, apperr.KindOf(err))

	assert.NoFileExists(t, r.Abs("_archive/v001/a.blend"))
	assert.NoFileExists(t, r.Abs("_archive/v001/a.png"))
	assert.NoFileExists(t, r.Abs("_archive/v001/meta.json"))
	assert.FileExists(t, r.Abs("library/a.blend"))
	assert.FileExists(t, r.Abs("library/a.png"))
}

func TestMoverCopyFailureKeepsSources(t *testing.T) {
	r := layout.NewResolver(t.TempDir())
	m := mover{resolver: r, log: zaptest.NewLogger(t)}
	writeFile(t, r, "library/a.blend", "a")

	moves := []fileMove{
		{src: "library/a.blend", dst: "_archive/v001/a.blend"},
		{src: "library/missing.png", dst: "_archive/v001/a.png"},
	}
	err := m.copyAll(context.Background(), &batch{moves: moves})
	require.Error(t, err)
	assert.Equal(t, apperr.KindIO, apperr.KindOf(err))
	assert.NoFileExists(t, r.Abs("_archive/v001/a.blend"))
	assert.FileExists(t, r.Abs("library/a.blend"))
}

func TestMoverRemoveSourcesPrunesDirs(t *testing.T) {
	r := layout.NewResolver(t.TempDir())
	m := mover{resolver: r, log: zaptest.NewLogger(t)}
	writeFile(t, r, "_archive/meshes/Sword/Base/v001/a.blend", "a")
	writeFile(t, r, "_archive/meshes/Sword/Base/v001/meta.json", "{}")

	m.removeSources([]fileMove{
		{src: "_archive/meshes/Sword/Base/v001/a.blend", dst: "library/a.blend"},
		{src: "_archive/meshes/Sword/Base/v001/meta.json"},
	})
	assert.NoDirExists(t, r.Abs("_archive/meshes/Sword/Base/v001"))
	assert.NoDirExists(t, r.Abs("_archive"))
	assert.DirExists(t, r.Root())
}

func TestMoverAbandonKeepsCommittedDestinations(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "one")
	e.publish(t, "Sword", "Base", "two")
	family := e.family(t, v1.FamilyUUID)

	moves, payload, thumbnail := versionMoves(e.resolver, v1, family, domain.TierArchive)
	m := mover{resolver: e.resolver, versions: e.versions, log: zaptest.NewLogger(t)}
	b := &batch{family: family, ids: []uuid.UUID{v1.ID}, moves: moves}
	require.NoError(t, m.copyAll(ctx, b))

	// Another worker committed the same move first.
	winner := *v1
	winner.Tier = domain.TierArchive
	winner.PayloadPath = payload
	winner.ThumbnailPath = thumbnail
	require.NoError(t, repository.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		return e.versions.MoveTierTx(ctx, tx, &winner, domain.TierActive)
	}))

	m.abandon(ctx, b)
	assert.Equal(t, "one", e.read(t, payload))
	assert.True(t, e.exists(thumbnail))

	// Copies the row does not point at are removed.
	v2moves, p2, _ := versionMoves(e.resolver, v1, family, domain.TierRetired)
	b2 := &batch{family: family, ids: []uuid.UUID{v1.ID}, moves: v2moves}
	require.NoError(t, m.copyAll(ctx, b2))
	m.abandon(ctx, b2)
	assert.False(t, e.exists(p2))
}

func TestHeldScopeOutlivesTTL(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()
	short := repository.NewLockRepository(e.db, 150*time.Millisecond, time.Second)
	locker := newScopeLocker(short, zaptest.NewLogger(t))

	familyUUID := uuid.New()
	held, err := locker.lock(ctx, familyUUID, "Base")
	require.NoError(t, err)
	time.Sleep(600 * time.Millisecond)

	lease, err := short.TryAcquire(ctx, scopeKey(familyUUID, "Base"), "other")
	require.NoError(t, err)
	assert.Nil(t, lease)
	require.NoError(t, repository.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		return held.verifyTx(ctx, tx)
	}))

	held.release()
	held.release()
	lease, err = short.TryAcquire(ctx, scopeKey(familyUUID, "Base"), "other")
	require.NoError(t, err)
	assert.NotNil(t, lease)
}
