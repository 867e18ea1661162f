package fileops

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/apperr"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "a", "b", "Sword.v001.blend")

	n, err := WriteAtomic(dst, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging files left behind")
}

func TestStageDiscard(t *testing.T) {
	dir := t.TempDir()
	st, err := Stage(dir, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.True(t, Exists(st.Path()))

	st.Discard()
	st.Discard()
	assert.False(t, Exists(st.Path()))
	assert.True(t, apperr.Is(st.Commit(filepath.Join(dir, "y")), apperr.KindInvalid))
}

func TestStageCommitReplaces(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "proxy.blend")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	st, err := Stage(dir, strings.NewReader("new"))
	require.NoError(t, err)
	require.NoError(t, st.Commit(dst))

	data, _ := os.ReadFile(dst)
	assert.Equal(t, "new", string(data))
}

func TestCopyVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.blend")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte{7}, 4096), 0o644))

	dst := filepath.Join(dir, "archive", "v001", "src.blend")
	n, err := CopyVerified(src, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, n)
	assert.True(t, Exists(src), "source untouched")
	assert.EqualValues(t, 4096, Size(dst))
}

func TestCopyVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyVerified(filepath.Join(dir, "nope"), filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIO))
	assert.False(t, apperr.IsRetryable(err))
}

func TestRemoveMissing(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), "missing")))
}

func TestPruneEmptyDirs(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "_archive", "meshes", "Sword", "Base", "v001")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	keep := filepath.Join(root, "_archive", "meshes", "Shield")
	require.NoError(t, os.MkdirAll(keep, 0o755))

	PruneEmptyDirs(deep, root)

	assert.False(t, Exists(filepath.Join(root, "_archive", "meshes", "Sword")))
	assert.True(t, Exists(keep))
	assert.True(t, Exists(root))
}

func TestSweepStaging(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "library", "meshes", "Sword", "Base")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	old := filepath.Join(dir, ".staging-123")
	fresh := filepath.Join(dir, ".staging-456")
	payload := filepath.Join(dir, "Sword.v001.blend")
	for _, p := range []string{old, fresh, payload} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(payload, past, past))

	removed, err := SweepStaging(root, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"library/meshes/Sword/Base/.staging-123"}, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, payload)

	removed, err = SweepStaging(filepath.Join(root, "missing"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)
}
