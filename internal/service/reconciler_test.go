package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
)

func TestReconcileRemovesStaleDuplicate(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "one")
	e.publish(t, "Sword", "Base", "two")
	activePath := v1.PayloadPath

	_, err := e.cold.Archive(ctx, v1.ID)
	require.NoError(t, err)

	// A delete that failed after commit leaves the active copy behind.
	require.NoError(t, os.WriteFile(e.resolver.Abs(activePath), []byte("one"), 0o644))

	report, err := e.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{activePath}, report.StaleRemoved)
	assert.Empty(t, report.IntegrityViolations)
	assert.Equal(t, 1, report.Synced)
	assert.False(t, e.exists(activePath))

	v1, err = e.svc.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", e.read(t, v1.PayloadPath))
}

func TestReconcileArchivesSuperseded(t *testing.T) {
	e := newTestEnv(t, VersionOptions{ArchiveOnPublish: true})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "one")
	e.publish(t, "Sword", "Base", "two")
	_, err := e.cold.Promote(ctx, v1.ID)
	require.NoError(t, err)

	report, err := e.recon.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.Archived, 1)
	assert.Equal(t, v1.ID, report.Archived[0])

	v1, err = e.svc.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierArchive, v1.Tier)
}

func TestReconcileRepairsProxy(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "one")
	proxy := e.proxy(t, v)
	require.NoError(t, os.Remove(e.resolver.Abs(proxy)))

	_, err := e.recon.Reconcile(ctx)
	require.NoError(t, err)
	e.requireSameFile(t, v.PayloadPath, proxy)
}

func TestReconcileReportsIntegrityViolation(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v1 := e.publish(t, "Sword", "Base", "one")
	v2 := e.publish(t, "Sword", "Base", "two")
	proxy := e.proxy(t, v2)

	// Current flag on a lower number than the highest live version.
	_, err := e.db.ExecContext(ctx, `UPDATE asset_version SET is_latest = 0 WHERE id = ?`, v2.ID)
	require.NoError(t, err)
	_, err = e.db.ExecContext(ctx, `UPDATE asset_version SET is_latest = 1 WHERE id = ?`, v1.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.resolver.Abs(proxy), []byte("untouched"), 0o644))

	report, err := e.recon.Reconcile(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	require.NotNil(t, report)
	require.Len(t, report.IntegrityViolations, 1)
	assert.Equal(t, v1.FamilyUUID, report.IntegrityViolations[0].FamilyUUID)
	assert.Equal(t, "Base", report.IntegrityViolations[0].Variant)

	// The broken scope is reported, never repaired.
	assert.Equal(t, "untouched", e.read(t, proxy))
	assert.Equal(t, 0, report.Synced)
}

func TestReconcileIgnoresUnrelatedFiles(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	e.publish(t, "Sword", "Base", "one")
	notes := filepath.Join(e.root, "library", "meshes", "Sword", "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep"), 0o644))

	report, err := e.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.StaleRemoved)
	assert.FileExists(t, notes)
}

func TestReconcileSweepsAbandonedStagingFiles(t *testing.T) {
	e := newTestEnv(t, VersionOptions{})
	ctx := context.Background()

	v := e.publish(t, "Sword", "Base", "one")
	dir := filepath.Dir(e.resolver.Abs(v.PayloadPath))
	crashed := filepath.Join(dir, ".staging-111")
	inFlight := filepath.Join(dir, ".staging-222")
	require.NoError(t, os.WriteFile(crashed, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(inFlight, []byte("partial"), 0o644))
	past := time.Now().Add(-2 * DefaultStagingGrace)
	require.NoError(t, os.Chtimes(crashed, past, past))

	report, err := e.recon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"library/meshes/Sword/Base/.staging-111"}, report.StagingRemoved)
	assert.Empty(t, report.Failures)
	assert.NoFileExists(t, crashed)
	assert.FileExists(t, inFlight)
	assert.Equal(t, "one", e.read(t, v.PayloadPath))
}
