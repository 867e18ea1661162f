package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("LIBRARY_ROOT", root)

	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, "2525", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(root, ".meta", "database.db"), cfg.Database.Path)
	assert.Equal(t, "Base", cfg.Library.DefaultVariant)
	assert.Equal(t, "blend", cfg.Library.DefaultExtension)
	assert.Equal(t, 2*time.Minute, cfg.Library.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.Library.LockWait)
	assert.True(t, cfg.Library.ArchiveOnPublish)
	assert.Equal(t, "assetlibrary:events", cfg.Redis.Channel)
	assert.False(t, cfg.S3.Enabled())
}

func TestNewConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Library:
  Root: `+dir+`
  LockWait: 5s
  ArchiveOnPublish: false
Log:
  Level: debug
S3:
  Bucket: backups
  AccessKeyID: key
  SecretAccessKey: secret
  Prefix: studio
`), 0o644))
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LIBRARY_LOCK_TTL", "1m")

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Library.LockWait)
	assert.Equal(t, time.Minute, cfg.Library.LockTTL)
	assert.False(t, cfg.Library.ArchiveOnPublish)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, "studio", cfg.S3.Prefix)
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing root", map[string]string{}},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mysql"}},
		{"incomplete postgres", map[string]string{"DATABASE_DRIVER": "postgres", "DATABASE_HOST": "db"}},
		{"ttl shorter than wait", map[string]string{"LIBRARY_LOCK_TTL": "1s", "LIBRARY_LOCK_WAIT": "10s"}},
		{"s3 without credentials", map[string]string{"S3_BUCKET": "backups"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LIBRARY_ROOT", "")
			if tt.name != "missing root" {
				t.Setenv("LIBRARY_ROOT", t.TempDir())
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig("")
			assert.Error(t, err)
		})
	}
}

func TestDatabaseURLs(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", User: "lib", Password: "p@ss", Name: "assets", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=lib password=p@ss dbname=assets sslmode=disable", db.GetDSN())
	assert.Equal(t, "postgres://lib:p%40ss@db:5432/assets?sslmode=disable", db.GetURL())
}
