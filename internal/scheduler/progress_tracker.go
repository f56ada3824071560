package scheduler

import (
	"sync"

	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/progress"
)

// progressTracker holds the mutable counters behind the broadcast progress
// state, serialized by its own lock since every worker in a phase updates
// it concurrently.
type progressTracker struct {
	mu                sync.Mutex
	processedInPhase1 int
	completedInPhase1 int
	phase2Queued      int
	phase2Completed   int
	activeWorkers     int
}

func newProgressTracker() *progressTracker {
	return &progressTracker{}
}

// recordOutcome updates Phase-1 counters for one property's outcome.
// completedInPhase1 only advances for a verdict the pipeline produced
// without error (passed or failed); a timeout or error outcome still
// advances processedInPhase1.
func (t *progressTracker) recordOutcome(status model.VerdictStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processedInPhase1++
	if status == model.VerdictPassed || status == model.VerdictFailed {
		t.completedInPhase1++
	}
}

func (t *progressTracker) recordPhase2Completed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase2Completed++
}

func (t *progressTracker) setPhase2Queued(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase2Queued = n
}

func (t *progressTracker) workerDelta(d int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeWorkers += d
}

// payload builds the broadcast snapshot. phase2ElapsedMs is supplied by the
// caller since it's wall-clock since Phase 2 started, not a per-property
// quantity this tracker owns.
//
// The 0-70%/70-100% weighting and the time-based dynamic re-estimation
// (remainingBatches, dynamicMaxDuration, phase2Progress) are derived by the
// payload's consumer from these raw counts and elapsed time; ProgressPayload
// carries the inputs to that calculation, not a precomputed percentage.
func (t *progressTracker) payload(phase string, phase2ElapsedMs int64) progress.ProgressPayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return progress.ProgressPayload{
		Phase:             phase,
		ProcessedInPhase1: t.processedInPhase1,
		CompletedInPhase1: t.completedInPhase1,
		Phase2Queued:      t.phase2Queued,
		Phase2Completed:   t.phase2Completed,
		Phase2ElapsedMs:   phase2ElapsedMs,
		ActiveWorkers:     t.activeWorkers,
	}
}
