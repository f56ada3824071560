// Package retryqueue implements the Retry Queue Processor: a
// stateless worker, invoked on its own schedule, that re-attempts
// permanently-queued Phase-2 failures with exponential backoff. Grounded on
// the same backoff/worker idiom internal/upload uses, applied to SQL rows
// rather than in-memory Temp Cache entries, since both packages are
// out-of-band passes over a bounded batch of prior failures.
package retryqueue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/tagwatch/internal/browserpool"
	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/pipeline"
)

// FetchLimit is the batch size one processor pass fetches at a time.
const FetchLimit = 50

// Store is the subset of internal/store's retry-queue repository the
// processor depends on. *store.RetryQueueRepo satisfies this directly.
type Store interface {
	FetchPending(ctx context.Context, now time.Time, limit int) ([]model.RetryQueueEntry, error)
	ClaimRetrying(ctx context.Context, id string, now time.Time) (bool, error)
	MarkResolved(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attemptCount int, reason string) error
}

// PropertyLookup resolves a RetryQueueEntry's propertyId back to the full
// Property record the pipeline needs to re-run. *store.PropertyRepo
// satisfies this directly.
type PropertyLookup interface {
	Get(ctx context.Context, id string) (model.Property, error)
}

// VerdictWriter durably records the re-attempt's outcome. *store.VerdictRepo
// satisfies this directly; unlike the scheduler's live run, there is no
// Temp Cache to hold this result, since the processor runs after the Batch
// Uploader has already cleared it.
type VerdictWriter interface {
	Upsert(ctx context.Context, v model.Verdict) error
}

// BrowserAcquirer is the subset of browserpool.Pool the processor depends
// on. Shared shape with internal/scheduler.BrowserAcquirer, kept as its own
// interface so this package doesn't import internal/scheduler for a type
// alias.
type BrowserAcquirer interface {
	Acquire(ctx context.Context) (browserpool.Handle, error)
	Release(h browserpool.Handle)
}

// Runner is the subset of pipeline.Pipeline the processor depends on.
type Runner interface {
	Run(ctx context.Context, instance *browserpool.Instance, prop model.Property, runID string, phase model.Phase, deadline time.Duration) (pipeline.Outcome, error)
}

// Processor is the Retry Queue Processor.
type Processor struct {
	queue    Store
	props    PropertyLookup
	verdicts VerdictWriter
	pool     BrowserAcquirer
	runner   Runner
	logger   *zap.Logger
	deadline time.Duration
}

// New constructs a Processor. deadline is the Phase-2 timeout the
// re-attempted pipeline call runs against.
func New(queue Store, props PropertyLookup, verdicts VerdictWriter, pool BrowserAcquirer, runner Runner, logger *zap.Logger, deadline time.Duration) *Processor {
	return &Processor{queue: queue, props: props, verdicts: verdicts, pool: pool, runner: runner, logger: logger, deadline: deadline}
}

// RunOnce performs one pass: fetch up to FetchLimit due entries and process
// each independently of the others' outcomes.
func (p *Processor) RunOnce(ctx context.Context) error {
	now := time.Now()
	entries, err := p.queue.FetchPending(ctx, now, FetchLimit)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.processEntry(ctx, entry, now)
	}
	return nil
}

// processEntry handles a single due entry: claim it compare-and-set,
// re-run the pipeline, and either resolve or reschedule/permanently-fail it.
func (p *Processor) processEntry(ctx context.Context, entry model.RetryQueueEntry, now time.Time) {
	claimed, err := p.queue.ClaimRetrying(ctx, entry.ID, now)
	if err != nil {
		p.logger.Error("retryqueue: claim failed", zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}
	if !claimed {
		// Another processor instance won the race; nothing to do.
		return
	}

	prop, err := p.props.Get(ctx, entry.PropertyID)
	if err != nil {
		p.logger.Error("retryqueue: property lookup failed", zap.String("entry_id", entry.ID), zap.String("property_id", entry.PropertyID), zap.Error(err))
		p.reschedule(ctx, entry, err)
		return
	}

	handle, err := p.pool.Acquire(ctx)
	if err != nil {
		p.logger.Error("retryqueue: browser acquire failed", zap.String("entry_id", entry.ID), zap.Error(err))
		p.reschedule(ctx, entry, err)
		return
	}
	defer p.pool.Release(handle)

	outcome, runErr := p.runner.Run(ctx, handle.Instance, prop, entry.RunID, model.Phase2, p.deadline)
	if runErr != nil {
		p.logger.Warn("retryqueue: re-attempt failed", zap.String("entry_id", entry.ID), zap.String("property_id", entry.PropertyID), zap.Error(runErr))
		p.reschedule(ctx, entry, runErr)
		return
	}

	if err := p.verdicts.Upsert(ctx, outcome.Verdict); err != nil {
		p.logger.Error("retryqueue: failed to persist re-attempt verdict", zap.String("entry_id", entry.ID), zap.Error(err))
		p.reschedule(ctx, entry, err)
		return
	}

	if err := p.queue.MarkResolved(ctx, entry.ID); err != nil {
		p.logger.Error("retryqueue: failed to mark entry resolved", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}

// reschedule bumps attemptCount and routes the entry to a backoff-delayed
// retry or permanent_failure via Store.Reschedule, which itself applies the
// 3-attempt cap.
func (p *Processor) reschedule(ctx context.Context, entry model.RetryQueueEntry, cause error) {
	attempt := entry.AttemptCount + 1
	if err := p.queue.Reschedule(ctx, entry.ID, attempt, cause.Error()); err != nil {
		p.logger.Error("retryqueue: reschedule failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}

