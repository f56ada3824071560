package scheduler

import (
	"context"
	"time"

	"github.com/user/tagwatch/internal/apperrors"
	"github.com/user/tagwatch/internal/browserpool"
	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/pipeline"
)

// inlineRetryBackoff is the fixed 1s/2s/4s schedule between the four
// attempts made for non-timeout retryable pipeline failures.
var inlineRetryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

const maxInlineAttempts = 4

// runWithRetry calls runner.Run up to maxInlineAttempts times, backing off
// between attempts, but only while the failure classifies as retryable.
// Timeout errors (ClassPhaseEscalated) are returned immediately on the
// first attempt: Phase-1 timeouts always fall through to Phase 2 and
// Phase-2 timeouts always fall through to the retry queue, never retried
// inline.
func runWithRetry(ctx context.Context, runner Runner, instance *browserpool.Instance, prop model.Property, runID string, phase model.Phase, deadline time.Duration) (pipeline.Outcome, error) {
	var outcome pipeline.Outcome
	var err error

	for attempt := 0; attempt < maxInlineAttempts; attempt++ {
		outcome, err = runner.Run(ctx, instance, prop, runID, phase, deadline)
		if err == nil {
			return outcome, nil
		}
		if apperrors.Classify(err) != apperrors.ClassRetryable {
			return outcome, err
		}
		if attempt == len(inlineRetryBackoff) {
			break
		}
		select {
		case <-time.After(inlineRetryBackoff[attempt]):
		case <-ctx.Done():
			return outcome, err
		}
	}

	return outcome, err
}
