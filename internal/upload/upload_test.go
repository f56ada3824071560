package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/objectstore"
	"github.com/user/tagwatch/internal/tempcache"
)

type fakeVerdictWriter struct {
	mu          sync.Mutex
	chunks      [][]model.Verdict
	failNext    int
	screenshots map[string]string
}

func newFakeVerdictWriter() *fakeVerdictWriter {
	return &fakeVerdictWriter{screenshots: make(map[string]string)}
}

func (f *fakeVerdictWriter) BatchInsert(_ context.Context, verdicts []model.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("transient datastore error")
	}
	cp := append([]model.Verdict(nil), verdicts...)
	f.chunks = append(f.chunks, cp)
	return nil
}

func (f *fakeVerdictWriter) UpdateScreenshotURL(_ context.Context, _, propertyID string, _ model.Phase, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots[propertyID] = url
	return nil
}

type fakeRunStats struct {
	mu    sync.Mutex
	stats model.UploadStats
	calls int
}

func (f *fakeRunStats) RecordUploadStats(_ context.Context, _ string, stats model.UploadStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
	f.calls++
	return nil
}

func TestUploader_Run_DropsMalformedPropertyIDs(t *testing.T) {
	cache := tempcache.New()
	cache.AddVerdict(model.Verdict{PropertyID: "good_id", RunID: "run-1", Phase: model.Phase1, FinishedAt: time.Now()})
	cache.AddVerdict(model.Verdict{PropertyID: "slug-fallback-name", RunID: "run-1", Phase: model.Phase1, FinishedAt: time.Now()})

	verdicts := newFakeVerdictWriter()
	runs := &fakeRunStats{}
	u := New(verdicts, runs, objectstore.NewMemUploader(), cache, zaptest.NewLogger(t))

	stats := u.Run(context.Background(), "run-1")

	if stats.SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1 (malformed id must be dropped)", stats.SuccessCount)
	}
	if stats.FailedCount != 0 {
		t.Errorf("FailedCount = %d, want 0", stats.FailedCount)
	}
	if cache.Len() != 0 {
		t.Error("expected temp cache to be cleared after Run")
	}
	if runs.calls != 1 {
		t.Errorf("RecordUploadStats calls = %d, want 1", runs.calls)
	}
}

func TestUploader_Run_ChunksBySize(t *testing.T) {
	cache := tempcache.New()
	for i := 0; i < ChunkSize+5; i++ {
		id := "p" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		cache.AddVerdict(model.Verdict{PropertyID: id, RunID: "run-1", Phase: model.Phase1, FinishedAt: time.Now()})
	}

	verdicts := newFakeVerdictWriter()
	runs := &fakeRunStats{}
	u := New(verdicts, runs, objectstore.NewMemUploader(), cache, zaptest.NewLogger(t))

	stats := u.Run(context.Background(), "run-1")

	if len(verdicts.chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(verdicts.chunks))
	}
	if stats.SuccessCount != ChunkSize+5 {
		t.Errorf("SuccessCount = %d, want %d", stats.SuccessCount, ChunkSize+5)
	}
}

func TestUploader_Run_RetriesFailedChunkThenGivesUp(t *testing.T) {
	cache := tempcache.New()
	cache.AddVerdict(model.Verdict{PropertyID: "good_id", RunID: "run-1", Phase: model.Phase1, FinishedAt: time.Now()})

	verdicts := newFakeVerdictWriter()
	verdicts.failNext = maxAttempts // every attempt fails
	runs := &fakeRunStats{}
	u := New(verdicts, runs, objectstore.NewMemUploader(), cache, zaptest.NewLogger(t))

	start := time.Now()
	stats := u.Run(context.Background(), "run-1")
	elapsed := time.Since(start)

	if stats.SuccessCount != 0 || stats.FailedCount != 1 {
		t.Errorf("stats = %+v, want SuccessCount=0 FailedCount=1", stats)
	}
	if elapsed < backoff[0]+backoff[1] {
		t.Errorf("expected retry backoff to elapse, got %v", elapsed)
	}
}

func TestUploader_Run_UploadsScreenshotsAndUpdatesURL(t *testing.T) {
	cache := tempcache.New()
	cache.AddVerdict(model.Verdict{PropertyID: "good_id", RunID: "run-1", Phase: model.Phase1, FinishedAt: time.Now()})
	cache.AddScreenshot("good_id", []byte("jpeg-bytes"))

	verdicts := newFakeVerdictWriter()
	runs := &fakeRunStats{}
	mem := objectstore.NewMemUploader()
	u := New(verdicts, runs, mem, cache, zaptest.NewLogger(t))

	u.Run(context.Background(), "run-1")

	verdicts.mu.Lock()
	url, ok := verdicts.screenshots["good_id"]
	verdicts.mu.Unlock()
	if !ok || url == "" {
		t.Fatal("expected screenshot url to be recorded")
	}
}

func TestIsWellFormedPropertyID(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"good_id123":    true,
		"slug-fallback": false,
		"with space":    false,
	}
	for id, want := range cases {
		if got := isWellFormedPropertyID(id); got != want {
			t.Errorf("isWellFormedPropertyID(%q) = %v, want %v", id, got, want)
		}
	}
}
