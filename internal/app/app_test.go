package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"assetlibrary/internal/config"
	"assetlibrary/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LIBRARY_ROOT", filepath.Join(t.TempDir(), "library"))
	cfg, err := config.NewConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewWiresLibrary(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Mirror)
	assert.Nil(t, a.Relay)
	assert.Nil(t, a.Session)

	_, err = os.Stat(cfg.Database.Path)
	require.NoError(t, err)

	v, err := a.Versions.Publish(context.Background(), domain.PublishRequest{
		FamilyName: "Tree",
		AssetType:  "mesh",
		Payload:    strings.NewReader("leaves"),
		Actor:      "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, cfg.Library.DefaultVariant, v.Variant)
}

func TestNewOptionalParts(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	cfg.Bridge.QueueDir = filepath.Join(t.TempDir(), "bridge")

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Relay)
	require.NotNil(t, a.Session)
	assert.DirExists(t, filepath.Join(cfg.Bridge.QueueDir, "requests"))
}
