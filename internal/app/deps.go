package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vidfriends/mediahub/internal/auth"
	"github.com/vidfriends/mediahub/internal/config"
	"github.com/vidfriends/mediahub/internal/db"
	"github.com/vidfriends/mediahub/internal/handlers"
	"github.com/vidfriends/mediahub/internal/lock"
	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/reconcile"
	"github.com/vidfriends/mediahub/internal/repositories"
	"github.com/vidfriends/mediahub/internal/storage"
	"github.com/vidfriends/mediahub/internal/users"
	"github.com/vidfriends/mediahub/internal/videos"
)

// userStore is satisfied by both user repositories.
type userStore interface {
	users.Repository
	auth.CredentialStore
}

// backend is the document store selected by DatabaseConfig.
type backend struct {
	users   userStore
	videos  videos.Repository
	orphans reconcile.Ledger
	pinger  handlers.Pinger
	close   func() error
}

// sqlPinger adapts *sql.DB to handlers.Pinger.
type sqlPinger struct{ handle *sql.DB }

func (p sqlPinger) Ping(ctx context.Context) error { return p.handle.PingContext(ctx) }

// openBackend connects to the configured database. The embedded driver is
// migrated on open; PostgreSQL expects `mediahub migrate up` to have run.
func openBackend(ctx context.Context, cfg config.DatabaseConfig) (backend, error) {
	if cfg.IsEmbedded() {
		handle, err := db.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return backend{}, err
		}
		if err := db.MigrateSQLite(handle); err != nil {
			_ = handle.Close()
			return backend{}, err
		}
		return backend{
			users:   repositories.NewSQLiteUserRepository(handle),
			videos:  repositories.NewSQLiteVideoRepository(handle),
			orphans: repositories.NewSQLiteOrphanRepository(handle),
			pinger:  sqlPinger{handle: handle},
			close:   handle.Close,
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.URL)
	if err != nil {
		return backend{}, err
	}
	return backend{
		users:   repositories.NewPostgresUserRepository(pool),
		videos:  repositories.NewPostgresVideoRepository(pool),
		orphans: repositories.NewPostgresOrphanRepository(pool),
		pinger:  pool,
		close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

// openLocker returns the Redis locker when enabled and nil otherwise, leaving
// the reconciler on its in-process lock.
func openLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, func() error, error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client), client.Close, nil
}

// services is the wired application graph owned by serve.
type services struct {
	handlers   handlers.Dependencies
	reconciler *reconcile.Reconciler
	closers    []func() error
}

// Close stops the reconciler workers, then releases connections in reverse
// order of acquisition.
func (s *services) Close(ctx context.Context) error {
	var errs []error
	if s.reconciler != nil {
		if err := s.reconciler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown reconciler: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildServices wires together concrete implementations used by the HTTP handlers.
func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (_ *services, err error) {
	svc := &services{}
	defer func() {
		if err != nil {
			_ = svc.Close(context.Background())
		}
	}()

	store, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, store.close)

	media, err := storage.NewS3MediaStore(ctx, cfg.Storage, storage.NewFFProbe(cfg.Storage.FFProbePath, cfg.Storage.ProbeTimeout))
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := openLocker(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, closeLocker)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Tokens.AccessSecret,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		Issuer:        cfg.Tokens.Issuer,
	})
	if err != nil {
		return nil, err
	}

	svc.reconciler = reconcile.New(store.orphans, media, locker, reconcile.Config{
		Interval:         cfg.Reconciler.Interval,
		DeletesPerSecond: cfg.Reconciler.DeletesPerSecond,
		Burst:            cfg.Reconciler.Burst,
		BatchSize:        cfg.Reconciler.BatchSize,
		Workers:          cfg.Reconciler.Workers,
		QueueSize:        cfg.Reconciler.QueueSize,
		MaxAttempts:      cfg.Reconciler.MaxAttempts,
		DeleteTimeout:    cfg.Storage.OperationTimeout,
	}, recorder, logger)

	var metricsPath string
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	svc.handlers = handlers.Dependencies{
		Users:          users.NewService(store.users, media, svc.reconciler, recorder),
		Sessions:       auth.NewManager(tokens, store.users, recorder),
		Videos:         videos.NewPipeline(store.videos, media, svc.reconciler, recorder),
		DB:             store.pinger,
		Metrics:        recorder,
		Logger:         logger,
		MetricsPath:    metricsPath,
		SecureCookies:  cfg.Server.SecureCookies,
		StagingDir:     cfg.Storage.TempDir,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	}
	return svc, nil
}
