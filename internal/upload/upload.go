// Package upload implements the Batch Uploader: invoked once
// after Phase 2 drains, it flushes the Temp Cache's verdicts to the
// datastore in chunks and uploads screenshots to the object store in
// parallel, then records run-level upload statistics and clears the cache
// unconditionally. Grounded on
// tomasbasham-har-capture/internal/operation/worker.go's Run/uploadArtefacts
// lifecycle, generalized from a single-operation upload to a chunked,
// concurrency-capped pass over an entire run's cached entries.
package upload

import (
	"context"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/objectstore"
	"github.com/user/tagwatch/internal/tempcache"
)

// ChunkSize is the verdict batch size inserted per datastore round trip.
const ChunkSize = 50

// ScreenshotConcurrency caps simultaneous screenshot uploads.
const ScreenshotConcurrency = 5

// maxAttempts and backoff implement a "retried up to 3 times with 1s/2s/4s
// backoff on transport errors" policy for both verdict chunks and
// screenshots.
const maxAttempts = 4

var backoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// propertyIDPattern is a well-formedness check that drops slug-fallback IDs
// before they reach the datastore. Property IDs are system-issued
// alphanumeric/underscore tokens; slugs (internal/property's human-readable
// fallback identifier) are kebab-case, so a dash disqualifies a value from
// looking like a real property ID. Decided as an Open Question in
// DESIGN.md, since no exact grammar is fixed elsewhere.
var propertyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func isWellFormedPropertyID(id string) bool {
	return id != "" && propertyIDPattern.MatchString(id)
}

// VerdictWriter is the datastore dependency the Batch Uploader needs: a
// chunked, transactional insert. *store.VerdictRepo satisfies this
// directly.
type VerdictWriter interface {
	BatchInsert(ctx context.Context, verdicts []model.Verdict) error
	UpdateScreenshotURL(ctx context.Context, runID, propertyID string, phase model.Phase, url string) error
}

// RunStatsWriter records the post-pass summary onto the run row.
// *store.RunRepo satisfies this directly.
type RunStatsWriter interface {
	RecordUploadStats(ctx context.Context, runID string, stats model.UploadStats) error
}

// Uploader is the Batch Uploader.
type Uploader struct {
	verdicts VerdictWriter
	runs     RunStatsWriter
	objects  objectstore.Uploader
	cache    *tempcache.Cache
	logger   *zap.Logger
}

// New constructs a Batch Uploader over the given run's Temp Cache.
func New(verdicts VerdictWriter, runs RunStatsWriter, objects objectstore.Uploader, cache *tempcache.Cache, logger *zap.Logger) *Uploader {
	return &Uploader{verdicts: verdicts, runs: runs, objects: objects, cache: cache, logger: logger}
}

// Run executes one full upload pass for runID and returns the resulting
// run-level statistics. The Temp Cache is cleared unconditionally before
// returning, even if chunks or screenshots failed.
func (u *Uploader) Run(ctx context.Context, runID string) model.UploadStats {
	start := time.Now()

	defer func() {
		if err := u.cache.Clear(); err != nil {
			u.logger.Warn("upload: temp cache clear failed", zap.String("runId", runID), zap.Error(err))
		}
	}()

	entries := u.cache.ExportForUpload()

	valid := make([]tempcache.ExportEntry, 0, len(entries))
	for _, e := range entries {
		if !isWellFormedPropertyID(e.Verdict.PropertyID) {
			u.logger.Warn("upload: dropping verdict with malformed property id",
				zap.String("runId", runID), zap.String("propertyId", e.Verdict.PropertyID))
			continue
		}
		valid = append(valid, e)
	}

	successCount, failedCount := u.insertVerdictChunks(ctx, runID, valid)
	u.uploadScreenshots(ctx, runID, valid)

	stats := model.UploadStats{
		CompletedAt:  time.Now(),
		DurationMs:   time.Since(start).Milliseconds(),
		SuccessCount: successCount,
		FailedCount:  failedCount,
	}
	if err := u.runs.RecordUploadStats(ctx, runID, stats); err != nil {
		u.logger.Error("upload: failed to record run upload stats", zap.String("runId", runID), zap.Error(err))
	}
	return stats
}

// insertVerdictChunks flushes valid's verdicts to the datastore in batches
// of ChunkSize, retrying each chunk whole on failure. A chunk that exhausts
// its retries is logged and counted as failed without aborting the rest.
func (u *Uploader) insertVerdictChunks(ctx context.Context, runID string, entries []tempcache.ExportEntry) (success, failed int) {
	for start := 0; start < len(entries); start += ChunkSize {
		end := start + ChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := make([]model.Verdict, 0, end-start)
		for _, e := range entries[start:end] {
			chunk = append(chunk, e.Verdict)
		}

		if err := withRetry(ctx, func() error {
			return u.verdicts.BatchInsert(ctx, chunk)
		}); err != nil {
			u.logger.Error("upload: verdict chunk failed after retries",
				zap.String("runId", runID), zap.Int("chunkSize", len(chunk)), zap.Error(err))
			failed += len(chunk)
			continue
		}
		success += len(chunk)
	}
	return success, failed
}

// uploadScreenshots uploads every entry's screenshot bytes (when present)
// to the object store with bounded concurrency, updating the corresponding
// verdict row's screenshot URL on success.
func (u *Uploader) uploadScreenshots(ctx context.Context, runID string, entries []tempcache.ExportEntry) {
	sem := semaphore.NewWeighted(ScreenshotConcurrency)

	for _, e := range entries {
		if len(e.Screenshot) == 0 {
			continue
		}
		e := e

		if err := sem.Acquire(ctx, 1); err != nil {
			u.logger.Warn("upload: screenshot semaphore acquire failed", zap.String("runId", runID), zap.Error(err))
			return
		}
		go func() {
			defer sem.Release(1)
			u.uploadOneScreenshot(ctx, runID, e)
		}()
	}

	// Drain the semaphore to wait for all in-flight uploads before returning.
	if err := sem.Acquire(ctx, ScreenshotConcurrency); err != nil {
		u.logger.Warn("upload: screenshot drain wait failed", zap.String("runId", runID), zap.Error(err))
	}
}

func (u *Uploader) uploadOneScreenshot(ctx context.Context, runID string, e tempcache.ExportEntry) {
	key := objectstore.ScreenshotKey(runID, e.Verdict.PropertyID, e.Verdict.FinishedAt.UnixMilli())

	var url string
	err := withRetry(ctx, func() error {
		u2, err := u.objects.Upload(ctx, key, e.Screenshot, objectstore.ScreenshotContentType)
		if err != nil {
			return err
		}
		url = u2
		return nil
	})
	if err != nil {
		u.logger.Error("upload: screenshot upload failed after retries",
			zap.String("runId", runID), zap.String("propertyId", e.Verdict.PropertyID), zap.Error(err))
		return
	}

	if err := u.verdicts.UpdateScreenshotURL(ctx, runID, e.Verdict.PropertyID, e.Verdict.Phase, url); err != nil {
		u.logger.Error("upload: failed to persist screenshot url",
			zap.String("runId", runID), zap.String("propertyId", e.Verdict.PropertyID), zap.Error(err))
	}
}

// withRetry runs fn up to maxAttempts times, sleeping backoff[i] between
// attempts, and returns the last error if every attempt fails.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff[attempt]):
		}
	}
	return err
}
