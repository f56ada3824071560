// Package scheduler implements the Two-Phase Scheduler, the
// orchestration core that pops properties off a shared queue, runs each
// through a pipeline under a phase-specific deadline, and routes the
// outcome to a verdict, the Phase-2 queue, or the retry queue. It is
// grounded on the teacher's renderer_v2.go task-orchestration idiom and on
// internal/server/sse.go's broadcast-on-change pattern, generalized from a
// single-page render job to a two-pass, many-property worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/tagwatch/internal/apperrors"
	"github.com/user/tagwatch/internal/browserpool"
	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/pipeline"
	"github.com/user/tagwatch/internal/progress"
	"github.com/user/tagwatch/internal/tempcache"
)

// tagManagerWaitMs mirrors internal/pipeline's fixed tag-manager wait
// window. Duplicated here, rather than imported, because it's unexported in
// that package and the Phase-2 progress re-estimation formula needs the same constant.
const tagManagerWaitMs = 30 * time.Second

// reconcileTickInterval is how often Phase 2 re-publishes progress while
// its workers are still running.
const reconcileTickInterval = 2 * time.Second

// lateResultGrace pads the supervisory wait a worker gives a property's
// pipeline call beyond its own deadline, absorbing chromedp teardown time
// before the scheduler gives up and treats the call as hung.
const lateResultGrace = 2 * time.Second

// retryQueueDelay is how far in the future a Phase-2 retryable failure's
// RetryQueueEntry is scheduled.
const retryQueueDelay = 30 * time.Minute

// BrowserAcquirer is the subset of browserpool.Pool the scheduler depends
// on, kept as an interface so tests can substitute a fake pool.
type BrowserAcquirer interface {
	Acquire(ctx context.Context) (browserpool.Handle, error)
	Release(h browserpool.Handle)
}

// Runner is the subset of pipeline.Pipeline the scheduler depends on.
// *pipeline.Pipeline satisfies this directly.
type Runner interface {
	Run(ctx context.Context, instance *browserpool.Instance, prop model.Property, runID string, phase model.Phase, deadline time.Duration) (pipeline.Outcome, error)
}

// VerdictStore is the subset of internal/store's verdict repository the
// scheduler depends on for restart recovery. A nil VerdictStore disables the durable write and
// reconciliation read, leaving recovery to the Temp Cache's own file mirror
// only.
type VerdictStore interface {
	// PersistTimeoutVerdict durably records a Phase-1 timeout placeholder
	// at the moment it happens, independent of the Temp Cache and the
	// Batch Uploader's later flush.
	PersistTimeoutVerdict(ctx context.Context, v model.Verdict) error
	// TimeoutPropertyIDs returns every propertyId with a recorded Phase-1
	// timeout verdict for runID.
	TimeoutPropertyIDs(ctx context.Context, runID string) ([]string, error)
}

// RetryQueueWriter is the subset of internal/store's retry-queue
// repository the scheduler depends on. A nil RetryQueueWriter drops
// Phase-2 retryable failures on the floor rather than queuing them.
type RetryQueueWriter interface {
	Enqueue(ctx context.Context, entry model.RetryQueueEntry) error
}

// Config carries the per-run tunables a scheduler needs.
type Config struct {
	WorkerCount        int
	Phase1Timeout      time.Duration
	Phase2Timeout      time.Duration
	Phase2HardDeadline time.Duration
}

// Scheduler runs the Two-Phase Scheduler over one run's property set.
type Scheduler struct {
	pool         BrowserAcquirer
	runner       Runner
	cache        *tempcache.Cache
	broadcaster  *progress.Broadcaster
	verdictStore VerdictStore
	retryQueue   RetryQueueWriter
	logger       *zap.Logger
	cfg          Config
}

// New creates a Scheduler. verdictStore and retryQueue may be nil (e.g. in
// tests, or before internal/store is wired at the coordinator layer).
func New(pool BrowserAcquirer, runner Runner, cache *tempcache.Cache, broadcaster *progress.Broadcaster, verdictStore VerdictStore, retryQueue RetryQueueWriter, logger *zap.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		pool:         pool,
		runner:       runner,
		cache:        cache,
		broadcaster:  broadcaster,
		verdictStore: verdictStore,
		retryQueue:   retryQueue,
		logger:       logger,
		cfg:          cfg,
	}
}

// Result is what a completed or cancelled Run produces.
type Result struct {
	Phase1Verdicts []model.Verdict
	Phase2Verdicts []model.Verdict
	Cancelled      bool
}

// Run executes Phase 1 over every property, reconciles and executes Phase
// 2 over the timed-out subset, and returns every verdict produced. Run
// returns promptly once ctx is cancelled; in-flight properties are
// abandoned rather than waited on.
func (s *Scheduler) Run(ctx context.Context, runID string, properties []model.Property) (Result, error) {
	byID := make(map[string]model.Property, len(properties))
	for _, p := range properties {
		byID[p.ID] = p
	}

	timedOut := newTimedOutSet()
	phase2 := newPhase2Queue()
	tracker := newProgressTracker()

	s.broadcaster.PublishRunStarted(runID, len(properties))

	phase1Verdicts := s.runPhase(ctx, runID, model.Phase1, newWorkQueue(properties), timedOut, phase2, tracker, s.cfg.Phase1Timeout)

	if ctx.Err() != nil {
		s.broadcaster.PublishRunCancelled(runID, "stopped during phase 1")
		return Result{Phase1Verdicts: phase1Verdicts, Cancelled: true}, nil
	}

	s.reconcilePhase2(ctx, runID, byID, phase2)

	phase2Properties := phase2.drain()
	tracker.setPhase2Queued(len(phase2Properties))
	s.broadcaster.PublishProgress(runID, tracker.payload(progress.PhaseTwo, 0))

	stopTicker := s.startPhase2Ticker(ctx, runID, tracker, len(phase2Properties))
	phase2Verdicts := s.runPhase(ctx, runID, model.Phase2, newWorkQueue(phase2Properties), timedOut, nil, tracker, s.cfg.Phase2HardDeadline)
	stopTicker()

	if ctx.Err() != nil {
		s.broadcaster.PublishRunCancelled(runID, "stopped during phase 2")
		return Result{Phase1Verdicts: phase1Verdicts, Phase2Verdicts: phase2Verdicts, Cancelled: true}, nil
	}

	s.broadcaster.PublishRunCompleted(runID, len(phase1Verdicts)+len(phase2Verdicts))
	return Result{Phase1Verdicts: phase1Verdicts, Phase2Verdicts: phase2Verdicts}, nil
}

// reconcilePhase2 is the restart-recovery hook: it rebuilds the Phase-2 queue from the
// datastore's own record of Phase-1 timeouts, so a process that crashed
// between Phase 1 and Phase 2 still runs every property it owes a Phase-2
// attempt to. phase2Queue's dedup means properties already queued by the
// in-memory Phase-1 pass are untouched by this pass.
func (s *Scheduler) reconcilePhase2(ctx context.Context, runID string, byID map[string]model.Property, phase2 *phase2Queue) {
	if s.verdictStore == nil {
		return
	}
	ids, err := s.verdictStore.TimeoutPropertyIDs(ctx, runID)
	if err != nil {
		s.logger.Error("phase-2 reconciliation against the datastore failed, continuing with the in-process queue only", zap.Error(err))
		return
	}
	for _, id := range ids {
		prop, ok := byID[id]
		if !ok {
			s.logger.Warn("reconciliation found a timeout verdict for a property no longer in the active set", zap.String("property_id", id))
			continue
		}
		phase2.add(prop)
	}
}

// startPhase2Ticker publishes a progress event every reconcileTickInterval
// while Phase 2 runs, carrying wall-clock elapsed time so the consumer can
// apply its own time-based dynamic re-estimation. The returned func stops
// the ticker; it is always safe to call.
func (s *Scheduler) startPhase2Ticker(ctx context.Context, runID string, tracker *progressTracker, queued int) func() {
	if queued == 0 {
		return func() {}
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	start := time.Now()

	go func() {
		ticker := time.NewTicker(reconcileTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				payload := tracker.payload(progress.PhaseTwo, elapsed.Milliseconds())
				s.logReestimate(queued, payload.Phase2Completed, elapsed)
				s.broadcaster.PublishProgress(runID, payload)
			}
		}
	}()

	return cancel
}

// logReestimate computes the time-based dynamic re-estimation
// (remainingBatches, dynamicMaxDuration, phase2Progress) and logs it. It's
// diagnostic only: the authoritative progress data a consumer needs is the
// raw counts and elapsed time already in the published payload, not this
// derived percentage.
func (s *Scheduler) logReestimate(queued, completed int, elapsed time.Duration) {
	remaining := queued - completed
	if remaining < 0 {
		remaining = 0
	}
	remainingBatches := (remaining + s.cfg.WorkerCount - 1) / s.cfg.WorkerCount
	dynamicMaxDuration := time.Duration(remainingBatches) * (s.cfg.Phase2Timeout + tagManagerWaitMs)

	var phase2Progress float64
	if dynamicMaxDuration > 0 {
		phase2Progress = float64(elapsed) / float64(dynamicMaxDuration)
		if phase2Progress > 1 {
			phase2Progress = 1
		}
	}

	s.logger.Debug("phase 2 progress re-estimated",
		zap.Int("remaining", remaining),
		zap.Int("remaining_batches", remainingBatches),
		zap.Duration("dynamic_max_duration", dynamicMaxDuration),
		zap.Float64("phase2_progress_pct", phase2Progress*30),
	)
}

// runPhase launches cfg.WorkerCount long-lived workers against queue and
// joins them with errgroup, matching golang.org/x/sync/errgroup's bounded
// fan-out/join idiom. A worker
// returns a non-nil error only for a pool-level failure that isn't
// cooperative shutdown; any such error is logged, not propagated as a
// per-property outcome.
func (s *Scheduler) runPhase(ctx context.Context, runID string, phase model.Phase, queue *workQueue, timedOut *timedOutSet, phase2 *phase2Queue, tracker *progressTracker, deadline time.Duration) []model.Verdict {
	var mu sync.Mutex
	var verdicts []model.Verdict

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		g.Go(func() error {
			return s.worker(gctx, runID, phase, queue, timedOut, phase2, tracker, deadline, &mu, &verdicts)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler worker pool exited with error", zap.Error(err), zap.Int("phase", int(phase)))
	}
	return verdicts
}

// worker is a single long-lived Phase worker: it acquires one browser slot
// for its entire lifetime, then loops popping properties until the queue is
// empty or ctx is cancelled.
func (s *Scheduler) worker(ctx context.Context, runID string, phase model.Phase, queue *workQueue, timedOut *timedOutSet, phase2 *phase2Queue, tracker *progressTracker, deadline time.Duration, mu *sync.Mutex, verdicts *[]model.Verdict) error {
	handle, err := s.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, browserpool.ErrPoolShuttingDown) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer s.pool.Release(handle)

	tracker.workerDelta(1)
	defer tracker.workerDelta(-1)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		prop, ok := queue.pop()
		if !ok {
			return nil
		}

		s.broadcaster.PublishLog(runID, fmt.Sprintf("%s: starting %s", phaseLabel(phase), prop.ID))

		outcome, runErr := s.runProperty(ctx, handle.Instance, prop, runID, phase, deadline)
		if ctx.Err() != nil {
			// Cancellation won the race with this property's pipeline
			// call; the property is abandoned, not recorded, and the
			// worker exits on its next suspension check above.
			return nil
		}

		verdict := s.classifyOutcome(ctx, runID, phase, prop, outcome, runErr, timedOut, phase2)

		mu.Lock()
		*verdicts = append(*verdicts, verdict)
		mu.Unlock()

		switch phase {
		case model.Phase1:
			tracker.recordOutcome(verdict.Status)
			s.broadcaster.PublishProgress(runID, tracker.payload(progress.PhaseOne, 0))
		case model.Phase2:
			tracker.recordPhase2Completed()
		}
	}
}

type pipelineResult struct {
	outcome pipeline.Outcome
	err     error
}

// runProperty runs one property's pipeline call with inline retry, guarded
// by a supervisory deadline in case the pipeline call ignores context
// cancellation and hangs past its own deadline. The pipeline call itself
// runs against context.Background(): a run-scoped cancellation is expected
// to unblock it via the Browser Pool's forced context close, not by cancelling
// this logical context — so a property already in flight when stop() is
// called is interrupted by the browser layer, not starved of its own
// deadline budget.
func (s *Scheduler) runProperty(ctx context.Context, instance *browserpool.Instance, prop model.Property, runID string, phase model.Phase, deadline time.Duration) (pipeline.Outcome, error) {
	resultCh := make(chan pipelineResult, 1)

	go func() {
		outcome, err := runWithRetry(context.Background(), s.runner, instance, prop, runID, phase, deadline)
		resultCh <- pipelineResult{outcome, err}
	}()

	select {
	case res := <-resultCh:
		return res.outcome, res.err
	case <-time.After(deadline + lateResultGrace):
		s.logger.Warn("pipeline exceeded its own deadline without returning; treating as timeout", zap.String("property_id", prop.ID), zap.Int("phase", int(phase)))
		return pipeline.Outcome{}, apperrors.NewTimeoutError("pipeline did not return within its deadline", context.DeadlineExceeded)
	case <-ctx.Done():
		return pipeline.Outcome{}, ctx.Err()
	}
}

// classifyOutcome turns a pipeline result into the property's final
// verdict for this phase, applying the three Phase-1 outcomes (and their
// Phase-2 analogues): success, phase-escalated timeout, and non-retryable
// error.
func (s *Scheduler) classifyOutcome(ctx context.Context, runID string, phase model.Phase, prop model.Property, outcome pipeline.Outcome, runErr error, timedOut *timedOutSet, phase2 *phase2Queue) model.Verdict {
	if runErr == nil {
		v := outcome.Verdict
		s.storeVerdict(v, outcome.Screenshot)
		return v
	}

	switch apperrors.Classify(runErr) {
	case apperrors.ClassPhaseEscalated:
		if phase == model.Phase1 {
			timedOut.add(prop.ID)
			if phase2 != nil {
				phase2.add(prop)
			}
			placeholder := timeoutPlaceholder(prop, runID)
			s.storeVerdict(placeholder, nil)
			if s.verdictStore != nil {
				if err := s.verdictStore.PersistTimeoutVerdict(ctx, placeholder); err != nil {
					s.logger.Error("failed to durably persist phase-1 timeout placeholder", zap.String("property_id", prop.ID), zap.Error(err))
				}
			}
			return placeholder
		}
		s.enqueueRetry(ctx, runID, prop, runErr)
		v := errorVerdict(prop, runID, phase, runErr)
		s.storeVerdict(v, nil)
		return v

	case apperrors.ClassRetryable:
		if phase == model.Phase2 {
			s.enqueueRetry(ctx, runID, prop, runErr)
		}
		v := errorVerdict(prop, runID, phase, runErr)
		s.storeVerdict(v, nil)
		return v

	default:
		v := errorVerdict(prop, runID, phase, runErr)
		s.storeVerdict(v, nil)
		return v
	}
}

func (s *Scheduler) storeVerdict(v model.Verdict, screenshot []byte) {
	if err := s.cache.AddVerdict(v); err != nil {
		s.logger.Error("failed to store verdict in temp cache", zap.String("property_id", v.PropertyID), zap.Error(err))
	}
	if len(screenshot) > 0 {
		s.cache.AddScreenshot(v.PropertyID, screenshot)
	}
}

func (s *Scheduler) enqueueRetry(ctx context.Context, runID string, prop model.Property, cause error) {
	if s.retryQueue == nil {
		return
	}
	now := time.Now()
	entry := model.RetryQueueEntry{
		PropertyID:   prop.ID,
		RunID:        runID,
		Reason:       cause.Error(),
		AttemptCount: 1,
		NextRetryAt:  now.Add(retryQueueDelay),
		Status:       model.RetryPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.retryQueue.Enqueue(ctx, entry); err != nil {
		s.logger.Error("failed to enqueue retry-queue entry", zap.String("property_id", prop.ID), zap.Error(err))
	}
}

func timeoutPlaceholder(prop model.Property, runID string) model.Verdict {
	now := time.Now()
	return model.Verdict{
		PropertyID: prop.ID,
		RunID:      runID,
		Phase:      model.Phase1,
		Status:     model.VerdictTimeout,
		StartedAt:  now,
		FinishedAt: now,
		IsValid:    false,
		Issues: []model.Issue{{
			Kind:     model.IssueTimeout,
			Severity: model.SeverityWarning,
			Message:  "navigation or event-wait deadline exceeded in phase 1; queued for phase 2",
		}},
	}
}

func errorVerdict(prop model.Property, runID string, phase model.Phase, err error) model.Verdict {
	now := time.Now()
	return model.Verdict{
		PropertyID: prop.ID,
		RunID:      runID,
		Phase:      phase,
		Status:     model.VerdictError,
		StartedAt:  now,
		FinishedAt: now,
		IsValid:    false,
		Issues: []model.Issue{{
			Kind:     model.IssueValidationError,
			Severity: model.SeverityCritical,
			Message:  err.Error(),
		}},
	}
}

func phaseLabel(phase model.Phase) string {
	if phase == model.Phase1 {
		return "phase1"
	}
	return "phase2"
}
