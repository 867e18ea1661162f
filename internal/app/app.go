// Package app wires the library services from configuration. The server and
// the command line tool share it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assetlibrary/internal/config"
	"assetlibrary/internal/events"
	"assetlibrary/internal/hostbridge"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
	"assetlibrary/internal/service"
	"assetlibrary/internal/service/s3"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *sqlx.DB
	Bus    *events.Bus

	Resolver   *layout.Resolver
	Versions   *service.VersionService
	Cold       *service.ColdStorageService
	Refs       *service.ReferenceService
	Retire     *service.RetireService
	Reconciler *service.Reconciler
	Folders    *service.FolderService
	Usage      *service.UsageService
	Authority  *service.AuthorityService

	// Optional parts, nil unless configured.
	Mirror  *service.MirrorService
	Relay   *events.RedisRelay
	Session *hostbridge.Session

	redis *goredis.Client
}

// DBOptions derives the metadata store options from cfg.
func DBOptions(cfg *config.Config) repository.Options {
	opts := repository.Options{
		Driver:       cfg.Database.Driver,
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}
	switch cfg.Database.Driver {
	case repository.DriverPostgres:
		opts.DSN = cfg.Database.GetDSN()
		opts.URL = cfg.Database.GetURL()
	default:
		opts.Path = cfg.Database.Path
	}
	return opts
}

// New opens the metadata store, applies migrations and builds every service.
// cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.Library.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library root: %w", err)
	}

	opts := DBOptions(cfg)
	if opts.Driver == repository.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := repository.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := repository.Migrate(opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Bus:      events.NewBus(log),
		Resolver: layout.NewResolver(cfg.Library.Root),
	}

	families := repository.NewFamilyRepository(db)
	versions := repository.NewVersionRepository(db)
	locks := repository.NewLockRepository(db, cfg.Library.LockTTL, cfg.Library.LockWait)
	vopts := service.VersionOptions{
		DefaultVariant:   cfg.Library.DefaultVariant,
		DefaultExtension: cfg.Library.DefaultExtension,
		ArchiveOnPublish: cfg.Library.ArchiveOnPublish,
	}

	a.Authority = service.NewAuthorityService(repository.NewSettingsRepository(db), log)
	a.Refs = service.NewReferenceService(db, families, versions, locks, a.Resolver, a.Bus, log)
	a.Cold = service.NewColdStorageService(db, families, versions, locks, a.Resolver, a.Bus, log)
	a.Versions = service.NewVersionService(db, families, versions, locks, a.Resolver, a.Cold, a.Refs, a.Bus, log, vopts)
	a.Retire = service.NewRetireService(db, families, versions, repository.NewAuditRepository(db), locks, a.Resolver, a.Refs, a.Authority, a.Bus, log)
	a.Reconciler = service.NewReconciler(db, families, versions, locks, a.Resolver, a.Refs, a.Cold, vopts.ArchiveOnPublish, log)
	a.Folders = service.NewFolderService(repository.NewFolderRepository(db), repository.NewTagRepository(db), families, log)
	a.Usage = service.NewUsageService(versions)

	if cfg.S3.Enabled() {
		client, err := s3.NewClient(ctx, &cfg.S3)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		a.Mirror = service.NewMirrorService(families, versions, a.Resolver, client, cfg.S3.Prefix, 0, log)
	}

	if cfg.Redis.Addr != "" {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.Relay = events.NewRedisRelay(a.redis, cfg.Redis.Channel, a.Bus, log)
	}

	if cfg.Bridge.QueueDir != "" {
		a.Session, err = hostbridge.NewSession(cfg.Bridge.QueueDir, cfg.Bridge.Timeout, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open host bridge: %w", err)
		}
	}

	return a, nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("failed to close database", zap.Error(err))
	}
}
