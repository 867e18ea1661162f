package service

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

func TestPublishNumbersVersionsSequentially(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})

	var last *domain.AssetVersion
	for i := 1; i <= 5; i++ {
		last = e.publish(t, "Sword", "Base", strings.Repeat("x", i))
		assert.Equal(t, i, last.VersionNumber)
		e.requireSingleLatest(t, last.FamilyUUID, "Base")
	}

	all, err := e.svc.ListVersions(context.Background(), last.FamilyUUID, "Base", true)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, v := range all {
		assert.Equal(t, i+1, v.VersionNumber)
		assert.Equal(t, v.ID == last.ID, v.IsLatest)
	}
	assert.Equal(t, "v005", last.VersionLabel)
	assert.Equal(t, "library/meshes/Sword/Base/Sword.v005.blend", last.PayloadPath)
	assert.Equal(t, "library/meshes/Sword/Base/Sword.v005.png", last.ThumbnailPath)
}

func TestPublishScenarioA(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "payloadA")
	assert.Equal(t, 1, v1.VersionNumber)
	assert.True(t, v1.IsLatest)
	assert.Equal(t, domain.TierActive, v1.Tier)

	v2 := e.publish(t, "Sword", "Base", "payloadB")
	assert.Equal(t, 2, v2.VersionNumber)
	assert.True(t, v2.IsLatest)

	v1, err := e.svc.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, v1.IsLatest)

	activePath := v1.PayloadPath
	archived, err := e.cold.Archive(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierArchive, archived.Tier)
	assert.False(t, e.exists(activePath))
	assert.Equal(t, "payloadA", e.read(t, archived.PayloadPath))
	assert.Equal(t, "_archive/meshes/Sword/Base/v001/Sword.v001.blend", archived.PayloadPath)

	e.requireSingleLatest(t, v2.FamilyUUID, "Base")
	assert.Equal(t, "payloadB", e.read(t, e.proxy(t, v2)))
}

func TestPublishArchivesSupersededVersion(t *testing.T) {
	e := newTestEnv(t, VersionOptions{ArchiveOnPublish: true})
	ctx := context.Background()

	v1 := e.publish(t, "Shield", "Red", "one")
	v2 := e.publish(t, "Shield", "Red", "two")

	v1, err := e.svc.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierArchive, v1.Tier)
	assert.Equal(t, domain.TierActive, v2.Tier)
	assert.True(t, e.exists(e.resolver.ArchiveMeta(v1.Ref(e.family(t, v1.FamilyUUID)))))
}

func TestPublishScenarioC(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.publish(t, "Sword", "Base", "seed")
	}

	// Both callers computed "next = 4" before either wrote.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []*domain.AssetVersion
		errs    []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.svc.publishAt(ctx, publishReq("Sword", "Base", "racer"), 4)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			created = append(created, v)
		}()
	}
	wg.Wait()

	require.Len(t, created, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, 4, created[0].VersionNumber)
	assert.True(t, apperr.Is(errs[0], apperr.KindConflict), "got %v", errs[0])
	assert.True(t, apperr.IsRetryable(errs[0]))

	latest := e.requireSingleLatest(t, created[0].FamilyUUID, "Base")
	assert.Equal(t, created[0].ID, latest.ID)

	// The loser recomputes and lands on 5.
	v5 := e.publish(t, "Sword", "Base", "retry")
	assert.Equal(t, 5, v5.VersionNumber)
}

func TestPublishStaleNumberLeavesNoFiles(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "one")
	_, err := e.svc.publishAt(ctx, publishReq("Sword", "Base", "stale"), 1)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	assert.Equal(t, "one", e.read(t, v1.PayloadPath))
	entries, err := os.ReadDir(e.resolver.Abs("library/meshes/Sword/Base"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{
		"Sword.v001.blend", "Sword.v001.png", "Sword.current.blend", "thumbnail.current.png",
	}, names)
}

func TestPublishValidation(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.PublishRequest
	}{
		{"missing family", domain.PublishRequest{AssetType: "mesh", Payload: strings.NewReader("x")}},
		{"missing type", domain.PublishRequest{FamilyName: "Sword", Payload: strings.NewReader("x")}},
		{"missing payload", domain.PublishRequest{FamilyName: "Sword", AssetType: "mesh"}},
		{"bad status", domain.PublishRequest{FamilyName: "Sword", AssetType: "mesh", Payload: strings.NewReader("x"), Status: "done"}},
		{"bad representation", domain.PublishRequest{FamilyName: "Sword", AssetType: "mesh", Payload: strings.NewReader("x"), Representation: "sculpt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Publish(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
		})
	}
}

func TestPublishDefaultsVariantAndExtension(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})

	v, err := e.svc.Publish(context.Background(), domain.PublishRequest{
		FamilyName: "Lamp",
		AssetType:  "Light",
		Payload:    strings.NewReader("light"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultVariant, v.Variant)
	assert.Equal(t, domain.DefaultExtension, v.FileExt)
	assert.Equal(t, domain.StatusNone, v.Status)
	assert.Empty(t, v.ThumbnailPath)
	assert.Equal(t, "library/lights/Lamp/Base/Lamp.v001.blend", v.PayloadPath)
}

func TestPublishIntoRetiredScopeIsRejected(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "one")
	require.NoError(t, e.retire.Retire(ctx, domain.Scope{FamilyUUID: v.FamilyUUID}, "tester"))

	_, err := e.svc.Publish(ctx, publishReq("Sword", "Base", "two"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid), "got %v", err)
	assert.False(t, apperr.IsRetryable(err))
}

func TestPublishEmitsEvent(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ch, cancel := e.bus.Subscribe(16)
	defer cancel()

	v := e.publish(t, "Sword", "Base", "one")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != domain.EventVersionPublished {
				continue
			}
			require.NotNil(t, ev.VersionID)
			assert.Equal(t, v.ID, *ev.VersionID)
			assert.Equal(t, v.FamilyUUID, ev.FamilyUUID)
			return
		case <-deadline:
			t.Fatal("no version_published event")
		}
	}
}

func TestRestoreAsCurrent(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	old := e.publish(t, "Sword", "Base", "first")
	require.NoError(t, e.svc.SetStatus(ctx, old.ID, domain.StatusApproved))
	e.publish(t, "Sword", "Base", "second")
	e.publish(t, "Sword", "Base", "third")

	before, err := e.svc.GetVersion(ctx, old.ID)
	require.NoError(t, err)

	restored, err := e.svc.RestoreAsCurrent(ctx, old.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, 4, restored.VersionNumber)
	assert.True(t, restored.IsLatest)
	assert.Equal(t, domain.StatusApproved, restored.Status)
	assert.Equal(t, "first", e.read(t, restored.PayloadPath))
	assert.Equal(t, "first", e.read(t, e.proxy(t, restored)))

	after, err := e.svc.GetVersion(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	e.requireSingleLatest(t, old.FamilyUUID, "Base")
}

func TestRestoreAsCurrentFromArchive(t *testing.T) {
	e := newTestEnv(t, VersionOptions{ArchiveOnPublish: true})
	ctx := context.Background()

	old := e.publish(t, "Sword", "Base", "first")
	e.publish(t, "Sword", "Base", "second")

	restored, err := e.svc.RestoreAsCurrent(ctx, old.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)
	assert.Equal(t, "first", e.read(t, restored.PayloadPath))

	old, err = e.svc.GetVersion(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierArchive, old.Tier)
}

func TestRestoreAsCurrentRejectsRetired(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "first")
	require.NoError(t, e.retire.Retire(ctx, domain.Scope{FamilyUUID: v.FamilyUUID}, "tester"))

	_, err := e.svc.RestoreAsCurrent(ctx, v.ID, "tester")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestGetLatestNotFound(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "first")
	_, err := e.svc.GetLatest(ctx, v.FamilyUUID, "Missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	latest, err := e.svc.GetLatest(ctx, v.FamilyUUID, "")
	require.NoError(t, err)
	assert.Equal(t, v.ID, latest.ID)
}

func TestVersionFieldUpdates(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "first")
	require.NoError(t, e.svc.SetFavorite(ctx, v.ID, true))
	require.NoError(t, e.svc.SetRepresentation(ctx, v.ID, domain.RepresentationRig))
	require.NoError(t, e.svc.SetStats(ctx, v.ID, domain.Stats{"polys": float64(1200)}))
	require.NoError(t, e.svc.UpdateDescription(ctx, v.FamilyUUID, "a sharp sword"))

	err := e.svc.SetStatus(ctx, v.ID, "shipped")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	got, err := e.svc.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFavorite)
	assert.Equal(t, domain.RepresentationRig, got.Representation)
	assert.Equal(t, float64(1200), got.Stats["polys"])
	assert.Equal(t, "a sharp sword", e.family(t, v.FamilyUUID).Description)

	thumb, err := e.svc.ThumbnailFile(ctx, v.ID)
	require.NoError(t, err)
	raw, err := os.ReadFile(thumb)
	require.NoError(t, err)
	assert.Equal(t, "png:first", string(raw))
}
