package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/skincheck/internal/classifier"
	"github.com/example/skincheck/internal/config"
	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/metrics"
	"github.com/example/skincheck/internal/objectstore"
	"github.com/example/skincheck/internal/repository"
	"github.com/example/skincheck/internal/usecase"
)

// app is the wired service graph shared by serve and scan.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	repo       *repository.ScanRepository
	cache      usecase.Cache
	redis      *usecase.RedisCache
	classifier *classifier.HTTPClient
	fsStore    *objectstore.FSStore
	uploader   usecase.ImageUploader
	normalizer *imaging.Normalizer
	uc         *usecase.ScanUseCase
	closers    []func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, recorder *metrics.Metrics) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	a.repo = repository.NewScanRepository(db, logger)
	if cfg.Database.AutoMigrate || cfg.Database.Driver == config.DriverEphemeral {
		if err := a.repo.AutoMigrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
	}

	a.initCache(ctx)

	if err := a.initStorage(); err != nil {
		a.Close()
		return nil, err
	}

	a.classifier = classifier.NewHTTPClient(cfg.Classifier.BaseURL, cfg.Classifier.Timeout, logger)
	a.normalizer = imaging.NewNormalizer(afero.NewOsFs(), cfg.Image.WorkDir, cfg.Image.TargetSize)

	opts := []usecase.Option{
		usecase.WithValidator(imaging.NewValidator(cfg.Image.MaxBytes)),
		usecase.WithCacheTTL(cfg.Cache.TTL),
		usecase.WithRescanAfter(cfg.Alerts.RescanAfter),
	}
	if recorder != nil {
		opts = append(opts, usecase.WithRecorder(recorder))
	}
	a.uc = usecase.NewScanUseCase(a.repo, a.classifier, a.uploader, a.cache, logger, opts...)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := repository.Open(pingCtx, cfg.Driver, cfg.DSN, logger)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err), zap.String("driver", cfg.Driver))
		return nil, err
	}
	return db, nil
}

// initCache prefers Redis and falls back to an in-process cache when Redis is
// not configured or unreachable.
func (a *app) initCache(ctx context.Context) {
	if a.cfg.Cache.Backend == config.CacheRedis {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Cache.RedisAddr})
		redisCache := usecase.NewRedisCache(client)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err == nil {
			a.redis = redisCache
			a.cache = redisCache
			a.closers = append(a.closers, func() { _ = client.Close() })
			return
		}
		_ = client.Close()
		a.logger.Warn("redis unavailable, using in-memory cache", zap.Error(err), zap.String("addr", a.cfg.Cache.RedisAddr))
	}
	a.cache = usecase.NewMemoryCache(a.cfg.Cache.TTL)
}

func (a *app) initStorage() error {
	var store objectstore.Store
	switch a.cfg.Storage.Backend {
	case config.StorageNone:
		a.logger.Info("object storage disabled, scans are saved without images")
		return nil
	case config.StorageFS:
		a.fsStore = objectstore.NewFSStore(afero.NewOsFs(), a.cfg.Storage.FS.Root, a.cfg.Storage.PublicBaseURL)
		store = a.fsStore
	case config.StorageSFTP:
		sftpStore, err := objectstore.NewSFTPStore(objectstore.SFTPConfig{
			Host:           a.cfg.Storage.SFTP.Host,
			Port:           a.cfg.Storage.SFTP.Port,
			Username:       a.cfg.Storage.SFTP.Username,
			Password:       a.cfg.Storage.SFTP.Password,
			KeyFile:        a.cfg.Storage.SFTP.KeyFile,
			KnownHostsFile: a.cfg.Storage.SFTP.KnownHosts,
			BasePath:       a.cfg.Storage.SFTP.BasePath,
			PublicBaseURL:  a.cfg.Storage.PublicBaseURL,
			Timeout:        a.cfg.Storage.Timeout,
		}, a.logger)
		if err != nil {
			return err
		}
		store = sftpStore
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	a.uploader = objectstore.NewUploader(store, a.cfg.Storage.Bucket, a.cfg.Storage.Timeout, a.logger)
	return nil
}

// checks lists the dependency probes used by /ready and the gRPC health service.
func (a *app) checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database":   a.repo.Ping,
		"classifier": a.classifier.Health,
	}
	if a.redis != nil {
		checks["cache"] = a.redis.Ping
	}
	return checks
}
