package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"assetlibrary/internal/domain"
	"assetlibrary/internal/events"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
)

type testEnv struct {
	db        *sqlx.DB
	root      string
	resolver  *layout.Resolver
	bus       *events.Bus
	families  *repository.FamilyRepository
	versions  *repository.VersionRepository
	locks     *repository.LockRepository
	audit     *repository.AuditRepository
	authority *AuthorityService
	refs      *ReferenceService
	cold      *ColdStorageService
	svc       *VersionService
	retire    *RetireService
	recon     *Reconciler
}

func newTestEnv(t *testing.T, opts VersionOptions) *testEnv {
	t.Helper()
	return newTestEnvWithLockTTL(t, opts, time.Minute)
}

func newTestEnvWithLockTTL(t *testing.T, opts VersionOptions, ttl time.Duration) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	dbOpts := repository.Options{
		Driver:      repository.DriverSQLite,
		Path:        filepath.Join(dir, "meta", "database.db"),
		BusyTimeout: 5 * time.Second,
	}
	db, err := repository.Open(context.Background(), dbOpts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(dbOpts))

	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))

	e := &testEnv{
		db:       db,
		root:     root,
		resolver: layout.NewResolver(root),
		bus:      events.NewBus(log),
		families: repository.NewFamilyRepository(db),
		versions: repository.NewVersionRepository(db),
		locks:    repository.NewLockRepository(db, ttl, 5*time.Second),
		audit:    repository.NewAuditRepository(db),
	}
	e.authority = NewAuthorityService(repository.NewSettingsRepository(db), log)
	e.refs = NewReferenceService(db, e.families, e.versions, e.locks, e.resolver, e.bus, log)
	e.cold = NewColdStorageService(db, e.families, e.versions, e.locks, e.resolver, e.bus, log)
	e.svc = NewVersionService(db, e.families, e.versions, e.locks, e.resolver, e.cold, e.refs, e.bus, log, opts)
	e.retire = NewRetireService(db, e.families, e.versions, e.audit, e.locks, e.resolver, e.refs, e.authority, e.bus, log)
	e.recon = NewReconciler(db, e.families, e.versions, e.locks, e.resolver, e.refs, e.cold, opts.ArchiveOnPublish, log)
	return e
}

func publishReq(family, variant, payload string) domain.PublishRequest {
	return domain.PublishRequest{
		FamilyName: family,
		AssetType:  "mesh",
		Variant:    variant,
		Extension:  "blend",
		Payload:    strings.NewReader(payload),
		Thumbnail:  strings.NewReader("png:" + payload),
		Actor:      "tester",
	}
}

func (e *testEnv) publish(t *testing.T, family, variant, payload string) *domain.AssetVersion {
	t.Helper()
	v, err := e.svc.Publish(context.Background(), publishReq(family, variant, payload))
	require.NoError(t, err)
	return v
}

func (e *testEnv) read(t *testing.T, rel string) string {
	t.Helper()
	raw, err := os.ReadFile(e.resolver.Abs(rel))
	require.NoError(t, err)
	return string(raw)
}

func (e *testEnv) exists(rel string) bool {
	_, err := os.Stat(e.resolver.Abs(rel))
	return err == nil
}

func (e *testEnv) family(t *testing.T, id uuid.UUID) *domain.AssetFamily {
	t.Helper()
	f, err := e.families.GetByUUID(context.Background(), id)
	require.NoError(t, err)
	return f
}

func (e *testEnv) proxy(t *testing.T, v *domain.AssetVersion) string {
	t.Helper()
	f := e.family(t, v.FamilyUUID)
	return e.resolver.Proxy(f.Name, f.AssetType, v.Variant, v.FileExt)
}

func (e *testEnv) requireSameFile(t *testing.T, a, b string) {
	t.Helper()
	ra, err := os.ReadFile(e.resolver.Abs(a))
	require.NoError(t, err)
	rb, err := os.ReadFile(e.resolver.Abs(b))
	require.NoError(t, err)
	require.True(t, bytes.Equal(ra, rb), "%s and %s differ", a, b)
}

// requireSingleLatest checks that the highest live number is the only
// current version of the scope.
func (e *testEnv) requireSingleLatest(t *testing.T, familyUUID uuid.UUID, variant string) *domain.AssetVersion {
	t.Helper()
	ctx := context.Background()
	n, err := e.versions.CountLatest(ctx, e.db, familyUUID, variant)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	latest, err := e.versions.GetLatest(ctx, e.db, familyUUID, variant)
	require.NoError(t, err)
	live, err := e.versions.ListScope(ctx, e.db, domain.Scope{FamilyUUID: familyUUID, Variant: variant}, false)
	require.NoError(t, err)
	highest := 0
	for _, v := range live {
		if v.VersionNumber > highest {
			highest = v.VersionNumber
		}
	}
	require.Equal(t, highest, latest.VersionNumber)
	return latest
}
