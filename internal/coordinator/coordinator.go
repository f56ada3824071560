// Package coordinator implements the Run Coordinator: the
// entry point that creates a Run record, acquires the host-local lockfile,
// orchestrates the Two-Phase Scheduler and the Batch Uploader, sets the
// terminal Run status, and clears the Temp Cache on every exit path.
// Grounded on cmd/jsbug/main.go's startup/shutdown sequencing (config →
// logger → pool → signal handling → ordered shutdown), generalized from a
// long-lived HTTP server lifecycle into a single-pass batch job lifecycle.
package coordinator

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/tagwatch/internal/config"
	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/objectstore"
	"github.com/user/tagwatch/internal/progress"
	"github.com/user/tagwatch/internal/property"
	"github.com/user/tagwatch/internal/scheduler"
	"github.com/user/tagwatch/internal/store"
	"github.com/user/tagwatch/internal/tempcache"
	"github.com/user/tagwatch/internal/upload"
)

// Coordinator owns one Run's full lifecycle.
type Coordinator struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	pool    scheduler.BrowserAcquirer
	runner  scheduler.Runner
	objects objectstore.Uploader
	lockCfg config.LockConfig
}

// New constructs a Coordinator. pool and runner are accepted as the same
// narrow interfaces internal/scheduler depends on, so tests can substitute
// fakes without a real Browser Pool or Chrome pipeline.
func New(cfg *config.Config, logger *zap.Logger, st *store.Store, pool scheduler.BrowserAcquirer, runner scheduler.Runner, objects objectstore.Uploader) *Coordinator {
	return &Coordinator{cfg: cfg, logger: logger, store: st, pool: pool, runner: runner, objects: objects, lockCfg: cfg.Lock}
}

// Run executes exactly one validation pass over the active Property Source:
// lock, load targets, run the Two-Phase Scheduler, flush via the Batch
// Uploader, and set a terminal Run status. The Temp Cache is cleared on
// every exit path, and the lockfile is released even if the run fails.
func (c *Coordinator) Run(ctx context.Context) error {
	lock, err := AcquireLock(c.lockCfg.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			c.logger.Error("coordinator: failed to release lockfile", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := property.NewRepoSource(c.store.Properties, c.logger)
	properties, err := source.ActiveProperties(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: failed to load property source: %w", err)
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	run := model.Run{
		ID:              runID,
		StartedAt:       startedAt,
		Status:          model.RunRunning,
		WorkerCount:     c.cfg.Scheduler.WorkerCount,
		TotalProperties: len(properties),
	}
	if err := c.store.Runs.Create(ctx, run); err != nil {
		return fmt.Errorf("coordinator: failed to create run record: %w", err)
	}

	cache := tempcache.New()
	defer func() {
		if err := cache.Clear(); err != nil {
			c.logger.Error("coordinator: failed to clear temp cache on exit", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	broadcaster := progress.NewBroadcaster(c.logger)

	sched := scheduler.New(c.pool, c.runner, cache, broadcaster, c.store.Verdicts, c.store.RetryQueue, c.logger, scheduler.Config{
		WorkerCount:        c.cfg.Scheduler.WorkerCount,
		Phase1Timeout:      time.Duration(c.cfg.Scheduler.Phase1TimeoutMs) * time.Millisecond,
		Phase2Timeout:      time.Duration(c.cfg.Scheduler.Phase2TimeoutMs) * time.Millisecond,
		Phase2HardDeadline: c.cfg.Phase2HardDeadline(),
	})

	result, runErr := sched.Run(ctx, runID, properties)
	if runErr != nil {
		c.setTerminalStatus(runID, model.RunFailed)
		return fmt.Errorf("coordinator: scheduler run failed: %w", runErr)
	}

	completed, failed := tallyOutcome(result)
	if err := c.store.Runs.UpdateCounts(context.Background(), runID, completed, failed); err != nil {
		c.logger.Error("coordinator: failed to update run counts", zap.String("run_id", runID), zap.Error(err))
	}

	if result.Cancelled {
		c.setTerminalStatus(runID, model.RunCancelled)
		return nil
	}

	up := upload.New(c.store.Verdicts, c.store.Runs, c.objects, cache, c.logger)
	up.Run(context.Background(), runID)

	c.setTerminalStatus(runID, model.RunCompleted)
	return nil
}

func (c *Coordinator) setTerminalStatus(runID string, status model.RunStatus) {
	if err := c.store.Runs.Finish(context.Background(), runID, status, time.Now()); err != nil {
		c.logger.Error("coordinator: failed to set terminal run status", zap.String("run_id", runID), zap.String("status", string(status)), zap.Error(err))
	}
}

// tallyOutcome derives the Run record's running completed/failed counts
// from every verdict a pass produced: completed counts every property that
// reached a passed verdict, failed counts everything else (failed, error,
// or a still-outstanding timeout placeholder).
func tallyOutcome(result scheduler.Result) (completed, failed int) {
	resolved := make(map[string]bool, len(result.Phase2Verdicts))
	for _, v := range result.Phase2Verdicts {
		resolved[v.PropertyID] = true
	}
	for _, v := range append(result.Phase1Verdicts, result.Phase2Verdicts...) {
		if v.Phase == model.Phase1 && v.Status == model.VerdictTimeout && resolved[v.PropertyID] {
			continue
		}
		if v.Status == model.VerdictPassed {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}
