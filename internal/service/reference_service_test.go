package service

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

func TestSyncRepairsProxy(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	e.publish(t, "Sword", "Base", "one")
	v2 := e.publish(t, "Sword", "Base", "two")
	proxy := e.proxy(t, v2)
	f := e.family(t, v2.FamilyUUID)
	thumb := e.resolver.ProxyThumbnail(f.Name, f.AssetType, "Base")

	require.NoError(t, os.WriteFile(e.resolver.Abs(proxy), []byte("garbage"), 0o644))
	require.NoError(t, os.Remove(e.resolver.Abs(thumb)))

	require.NoError(t, e.refs.Sync(ctx, domain.Scope{FamilyUUID: v2.FamilyUUID, Variant: "Base"}))
	e.requireSameFile(t, v2.PayloadPath, proxy)
	e.requireSameFile(t, v2.ThumbnailPath, thumb)

	// Re-running changes nothing.
	require.NoError(t, e.refs.Sync(ctx, domain.Scope{FamilyUUID: v2.FamilyUUID}))
	e.requireSameFile(t, v2.PayloadPath, proxy)
}

func TestSyncRemovesProxyWithoutLatest(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "one")
	proxy := e.proxy(t, v)
	require.True(t, e.exists(proxy))

	require.NoError(t, e.retire.Retire(ctx, domain.Scope{FamilyUUID: v.FamilyUUID}, "alice"))
	assert.False(t, e.exists(proxy))

	// A proxy left behind by an interrupted operation is removed by Sync.
	require.NoError(t, os.MkdirAll(e.resolver.Abs("library/meshes/Sword/Base"), 0o755))
	require.NoError(t, os.WriteFile(e.resolver.Abs(proxy), []byte("dangling"), 0o644))
	require.NoError(t, e.refs.Sync(ctx, domain.Scope{FamilyUUID: v.FamilyUUID}))
	assert.False(t, e.exists(proxy))
	assert.False(t, e.exists("library/meshes/Sword"))
}

func TestSyncFollowsExtensionChange(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "one")
	req := publishReq("Sword", "Base", "two")
	req.Extension = "usd"
	v2, err := e.svc.Publish(ctx, req)
	require.NoError(t, err)

	assert.False(t, e.exists(e.proxy(t, v1)))
	assert.Equal(t, "two", e.read(t, e.proxy(t, v2)))
	assert.Equal(t, "library/meshes/Sword/Base/Sword.current.usd", e.proxy(t, v2))
}

func TestSyncUnknownFamily(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	err := e.refs.Sync(context.Background(), domain.Scope{FamilyUUID: [16]byte{7}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
