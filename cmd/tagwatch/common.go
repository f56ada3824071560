package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/tagwatch/internal/browserpool"
	"github.com/user/tagwatch/internal/config"
	"github.com/user/tagwatch/internal/logger"
	"github.com/user/tagwatch/internal/objectstore"
	"github.com/user/tagwatch/internal/pipeline"
	"github.com/user/tagwatch/internal/store"
)

// app bundles every long-lived dependency a subcommand needs, closed
// together via app.Close().
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	logSync func()
	store   *store.Store
	pool    *browserpool.Pool
	objects objectstore.Uploader
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("tagwatch: load config: %w", err)
	}

	log, sync, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	if err != nil {
		return nil, fmt.Errorf("tagwatch: init logger: %w", err)
	}

	db, err := store.Connect(cfg.Datastore)
	if err != nil {
		sync()
		return nil, fmt.Errorf("tagwatch: connect datastore: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		sync()
		return nil, fmt.Errorf("tagwatch: ping datastore: %w", err)
	}

	pool, err := browserpool.NewPool(browserpool.InstanceConfig{
		PoolSize:          cfg.Browser.PoolSize,
		Headless:          cfg.Browser.Headless,
		NoSandbox:         cfg.Browser.NoSandbox,
		WarmupURL:         cfg.Browser.WarmupURL,
		Timeout:           cfg.Phase2HardDeadline(),
		RestartAfterCount: cfg.Browser.RestartAfterCount,
		RestartAfterTime:  cfg.Browser.RestartAfterTime,
		ShutdownTimeout:   cfg.Browser.ShutdownTimeout,
	}, log)
	if err != nil {
		db.Close()
		sync()
		return nil, fmt.Errorf("tagwatch: init browser pool: %w", err)
	}

	objects, err := objectstore.NewGCSUploader(ctx, cfg.ObjectStore)
	if err != nil {
		pool.Stop()
		db.Close()
		sync()
		return nil, fmt.Errorf("tagwatch: init object store: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		logSync: sync,
		store:   store.New(db),
		pool:    pool,
		objects: objects,
	}, nil
}

func (a *app) Close() {
	if err := a.pool.Stop(); err != nil {
		a.log.Error("tagwatch: browser pool stop error", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("tagwatch: datastore close error", zap.Error(err))
	}
	a.logSync()
}

// newPipeline builds the production pipeline.Pipeline runner, wrapped here
// so subcommands depend only on scheduler.Runner/retryqueue.Runner, not on
// internal/pipeline directly.
func (a *app) newPipeline() *pipeline.Pipeline {
	return pipeline.New(a.log)
}
