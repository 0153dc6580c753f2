package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/mediahub/internal/config"
	"github.com/vidfriends/mediahub/internal/db"
	"github.com/vidfriends/mediahub/internal/handlers"
	"github.com/vidfriends/mediahub/internal/httpserver"
	"github.com/vidfriends/mediahub/internal/logging"
	"github.com/vidfriends/mediahub/internal/metrics"
)

// Run bootstraps the mediahub backend application.
func Run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("mediahub", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("MEDIAHUB_CONFIG"), "path to a YAML config file")
	seedDir := flags.String("seeds", "seeds", "directory holding seed files")
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()

	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	var command func(context.Context, config.Config, []string) error
	switch args[0] {
	case "serve":
		command = serve
	case "migrate":
		command = runMigrations
	case "seed":
		command = func(ctx context.Context, cfg config.Config, args []string) error {
			return runSeed(ctx, cfg, *seedDir, args)
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	return command(ctx, cfg, args[1:])
}

func serve(ctx context.Context, cfg config.Config, _ []string) error {
	logger := logging.NewLogger(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, err := buildServices(ctx, cfg, logger, metrics.New(nil))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer closeCancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Error("release dependencies", "error", err)
		}
	}()

	if cfg.Reconciler.Enabled {
		go svc.reconciler.Run(ctx)
	}

	srv := httpserver.New(cfg.Server, handlers.NewRouter(svc.handlers))

	logger.Info("starting http server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		return err
	}

	cancel()
	return httpserver.ShutdownWithin(srv, cfg.Server.ShutdownTimeout)
}

func openMigrator(ctx context.Context, cfg config.DatabaseConfig) (*db.Migrator, func() error, error) {
	if !cfg.IsEmbedded() {
		m, err := db.NewPostgresMigrator(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}

	handle, err := db.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	m, err := db.NewSQLiteMigrator(handle)
	if err != nil {
		_ = handle.Close()
		return nil, nil, err
	}
	return m, func() error { return errors.Join(m.Close(), handle.Close()) }, nil
}

func runMigrations(ctx context.Context, cfg config.Config, args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	m, closeFn, err := openMigrator(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	switch command {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "version", "status":
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

const (
	seedMaxRetries  = 3
	seedBaseBackoff = 100 * time.Millisecond
	seedMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// seedPath resolves "dev" to <dir>/dev_seed.sql; names ending in .sql are
// taken relative to dir unless absolute.
func seedPath(dir, name string) string {
	if !strings.HasSuffix(name, ".sql") {
		name = fmt.Sprintf("%s_seed.sql", name)
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func runSeed(ctx context.Context, cfg config.Config, dir string, args []string) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. dev)")
	}

	path := seedPath(dir, args[0])
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}

	if cfg.Database.IsEmbedded() {
		handle, err := db.OpenSQLite(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		defer handle.Close()

		if err := db.MigrateSQLite(handle); err != nil {
			return err
		}
		if _, err := handle.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply seed %s: %w", path, err)
		}
	} else {
		pool, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := applySeedWithRetry(ctx, pool, path, string(contents)); err != nil {
			return err
		}
	}

	fmt.Printf("applied seed %s\n", path)
	return nil
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func applySeedWithRetry(ctx context.Context, conn txBeginner, name string, contents string) error {
	var attempt int
	for attempt = 0; attempt < seedMaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(seedBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := applySeed(ctx, conn, contents)
		if err == nil {
			return nil
		}
		if shouldRetrySeed(err) && attempt < seedMaxRetries-1 {
			fmt.Printf("transient error applying seed %s (attempt %d/%d): %v\n", name, attempt+1, seedMaxRetries, err)
			continue
		}
		return fmt.Errorf("apply seed %s: %w", name, err)
	}

	return fmt.Errorf("apply seed %s: exceeded max retries (%d)", name, attempt)
}

func applySeed(ctx context.Context, conn txBeginner, contents string) error {
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, contents); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func seedBackoff(attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * seedBaseBackoff
	if backoff > seedMaxBackoff {
		backoff = seedMaxBackoff
	}
	return backoff
}

func shouldRetrySeed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}
