package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/crateworks/crate-validator/pkg/config"
	"github.com/crateworks/crate-validator/pkg/database"
	"github.com/crateworks/crate-validator/pkg/dispatch"
	"github.com/crateworks/crate-validator/pkg/ha"
	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/notify"
	"github.com/crateworks/crate-validator/pkg/objectstore"
	"github.com/crateworks/crate-validator/pkg/tasks"
	"github.com/crateworks/crate-validator/pkg/validator"
)

// app holds the components shared by the serve and worker commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	queue    *jobs.JobStore
	results  jobs.ResultBackend
	redis    *jobs.RedisResultBackend
	registry *validator.Registry
	closers  []io.Closer
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.New(), configFile)
}

// newLogger returns a text logger in development and a JSON logger
// otherwise.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if cfg.Development() {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.BrokerURL)
	if err != nil {
		return nil, err
	}
	queue := jobs.NewJobStore(db)

	locker := ha.NewMigrationLocker(db, ha.WithLogger(logger))
	if err := locker.WithLock(ctx, queue.AutoMigrate); err != nil {
		return nil, fmt.Errorf("migrate broker database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, queue: queue, results: queue}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}

	if cfg.ResultBackendURL != "" {
		if !strings.HasPrefix(cfg.ResultBackendURL, "redis://") && !strings.HasPrefix(cfg.ResultBackendURL, "rediss://") {
			a.close()
			return nil, fmt.Errorf("unsupported result backend %q", cfg.ResultBackendURL)
		}
		redisBackend, err := jobs.NewRedisResultBackend(cfg.ResultBackendURL, cfg.ResultTTL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.results = redisBackend
		a.redis = redisBackend
		a.closers = append(a.closers, redisBackend)
	}

	a.registry, err = validator.NewRegistry(cfg.ProfilesPath, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load validation profiles: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// watchProfiles reloads the profiles directory until ctx is done.
func (a *app) watchProfiles(ctx context.Context) {
	if a.cfg.ProfilesPath == "" {
		return
	}
	go func() {
		if err := a.registry.Watch(ctx); err != nil {
			a.logger.Error("profile watcher stopped", "error", err)
		}
	}()
}

func (a *app) openStore(ctx context.Context, cfg objectstore.Config) (*objectstore.Store, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = a.cfg.Store.Timeout
	}
	return objectstore.New(ctx, cfg, a.logger)
}

func (a *app) dispatcher() *dispatch.Service {
	stores := func(ctx context.Context, cfg objectstore.Config) (dispatch.Store, error) {
		return a.openStore(ctx, cfg)
	}
	return dispatch.New(a.queue, a.results, stores, dispatch.Config{
		DefaultStore: a.cfg.Store,
		Deduplicate:  a.cfg.Jobs.Deduplicate,
		WaitTimeout:  a.cfg.MetadataWaitTimeout,
		ProfilesRoot: a.cfg.ProfilesPath,
	}, a.logger)
}

func (a *app) workerPool() *jobs.WorkerPool {
	stores := func(ctx context.Context, cfg objectstore.Config) (tasks.Store, error) {
		return a.openStore(ctx, cfg)
	}
	engine := validator.NewRuleEngine(a.registry, a.cfg.WorkDir, a.logger)
	sender := notify.NewSender(
		notify.WithTimeout(a.cfg.WebhookTimeout),
		notify.WithRetries(a.cfg.WebhookRetries),
		notify.WithLogger(a.logger),
	)
	runner := tasks.NewRunner(stores, validator.NewAdapter(engine, a.logger), sender,
		tasks.WithWorkDir(a.cfg.WorkDir),
		tasks.WithLogger(a.logger),
	)

	jobCfg := a.cfg.Jobs
	jobCfg.Enabled = true
	return jobs.NewWorkerPool(a.queue, a.results, runner.Lookup, &jobCfg, a.logger)
}

func stdout() io.Writer { return os.Stdout }
