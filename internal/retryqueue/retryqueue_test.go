package retryqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/user/tagwatch/internal/browserpool"
	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/pipeline"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []model.RetryQueueEntry
	claimed   map[string]bool
	resolved  map[string]bool
	rescheds  map[string]int
	claimDeny map[string]bool
}

func newFakeStore(entries ...model.RetryQueueEntry) *fakeStore {
	return &fakeStore{
		pending:   entries,
		claimed:   make(map[string]bool),
		resolved:  make(map[string]bool),
		rescheds:  make(map[string]int),
		claimDeny: make(map[string]bool),
	}
}

func (f *fakeStore) FetchPending(_ context.Context, _ time.Time, limit int) ([]model.RetryQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > limit {
		return append([]model.RetryQueueEntry(nil), f.pending[:limit]...), nil
	}
	return append([]model.RetryQueueEntry(nil), f.pending...), nil
}

func (f *fakeStore) ClaimRetrying(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimDeny[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeStore) MarkResolved(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[id] = true
	return nil
}

func (f *fakeStore) Reschedule(_ context.Context, id string, attemptCount int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheds[id] = attemptCount
	return nil
}

type fakeProps struct {
	props map[string]model.Property
}

func (f *fakeProps) Get(_ context.Context, id string) (model.Property, error) {
	p, ok := f.props[id]
	if !ok {
		return model.Property{}, errors.New("not found")
	}
	return p, nil
}

type fakeVerdicts struct {
	mu       sync.Mutex
	upserted []model.Verdict
	failNext bool
}

func (f *fakeVerdicts) Upsert(_ context.Context, v model.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("upsert failed")
	}
	f.upserted = append(f.upserted, v)
	return nil
}

type fakePool struct{}

func (fakePool) Acquire(_ context.Context) (browserpool.Handle, error) {
	return browserpool.Handle{Instance: &browserpool.Instance{}}, nil
}
func (fakePool) Release(_ browserpool.Handle) {}

type fakeRunner struct {
	outcome pipeline.Outcome
	err     error
}

func (f fakeRunner) Run(_ context.Context, _ *browserpool.Instance, prop model.Property, runID string, phase model.Phase, _ time.Duration) (pipeline.Outcome, error) {
	if f.err != nil {
		return pipeline.Outcome{}, f.err
	}
	v := f.outcome.Verdict
	v.PropertyID = prop.ID
	v.RunID = runID
	v.Phase = phase
	return pipeline.Outcome{Verdict: v}, nil
}

func TestProcessor_RunOnce_SuccessMarksResolved(t *testing.T) {
	entry := model.RetryQueueEntry{ID: "e1", PropertyID: "p1", RunID: "run-1", AttemptCount: 1}
	store := newFakeStore(entry)
	props := &fakeProps{props: map[string]model.Property{"p1": {ID: "p1", TargetURL: "https://example.com"}}}
	verdicts := &fakeVerdicts{}
	runner := fakeRunner{outcome: pipeline.Outcome{Verdict: model.Verdict{Status: model.VerdictPassed}}}

	p := New(store, props, verdicts, fakePool{}, runner, zaptest.NewLogger(t), time.Second)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if !store.claimed["e1"] {
		t.Error("expected entry to be claimed")
	}
	if !store.resolved["e1"] {
		t.Error("expected entry to be marked resolved")
	}
	if len(verdicts.upserted) != 1 {
		t.Fatalf("expected 1 upserted verdict, got %d", len(verdicts.upserted))
	}
}

func TestProcessor_RunOnce_FailureReschedules(t *testing.T) {
	entry := model.RetryQueueEntry{ID: "e1", PropertyID: "p1", RunID: "run-1", AttemptCount: 1}
	store := newFakeStore(entry)
	props := &fakeProps{props: map[string]model.Property{"p1": {ID: "p1", TargetURL: "https://example.com"}}}
	verdicts := &fakeVerdicts{}
	runner := fakeRunner{err: errors.New("navigation failed")}

	p := New(store, props, verdicts, fakePool{}, runner, zaptest.NewLogger(t), time.Second)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if store.resolved["e1"] {
		t.Error("entry should not be resolved on failure")
	}
	if store.rescheds["e1"] != 2 {
		t.Errorf("rescheds[e1] = %d, want 2 (attemptCount+1)", store.rescheds["e1"])
	}
}

func TestProcessor_RunOnce_LostClaimIsSkipped(t *testing.T) {
	entry := model.RetryQueueEntry{ID: "e1", PropertyID: "p1", RunID: "run-1", AttemptCount: 1}
	store := newFakeStore(entry)
	store.claimDeny["e1"] = true
	props := &fakeProps{props: map[string]model.Property{"p1": {ID: "p1"}}}
	verdicts := &fakeVerdicts{}
	runner := fakeRunner{outcome: pipeline.Outcome{Verdict: model.Verdict{Status: model.VerdictPassed}}}

	p := New(store, props, verdicts, fakePool{}, runner, zaptest.NewLogger(t), time.Second)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(verdicts.upserted) != 0 {
		t.Error("expected no verdict to be upserted when claim is lost")
	}
}
