package progress

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	if b == nil {
		t.Fatal("NewBroadcaster() returned nil")
	}
	if b.channels == nil {
		t.Error("channels map not initialized")
	}
}

func TestBroadcaster_Subscribe(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	runID := "run-123"
	ch := b.Subscribe(runID)
	if ch == nil {
		t.Fatal("Subscribe() returned nil channel")
	}
	if !b.HasSubscriber(runID) {
		t.Error("HasSubscriber() should return true after Subscribe()")
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	runID := "run-123"
	b.Subscribe(runID)
	b.Unsubscribe(runID)

	if b.HasSubscriber(runID) {
		t.Error("HasSubscriber() should return false after Unsubscribe()")
	}
}

func TestBroadcaster_Unsubscribe_NonExistent(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	b.Unsubscribe("non-existent") // must not panic
}

func TestBroadcaster_ResubscribeSameRun(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	runID := "run-123"

	ch1 := b.Subscribe(runID)
	ch2 := b.Subscribe(runID)

	select {
	case _, ok := <-ch1:
		if ok {
			t.Error("old channel should be closed")
		}
	default:
	}

	b.Publish(runID, Event{Type: EventRunStarted})
	select {
	case <-ch2:
	case <-time.After(100 * time.Millisecond):
		t.Error("new channel should receive events")
	}
}

func TestBroadcaster_Publish_NoSubscriber(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	b.Publish("non-existent", Event{Type: EventRunStarted}) // must not panic
}

func TestBroadcaster_Publish_ChannelFull(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	runID := "run-123"
	b.Subscribe(runID)

	for i := 0; i < channelBuffer+5; i++ {
		b.Publish(runID, Event{Type: EventLog})
	}
	// must not block or panic; excess events are dropped
}

func TestBroadcaster_PublishHelpers(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	runID := "run-123"
	ch := b.Subscribe(runID)

	tests := []struct {
		name     string
		publish  func()
		expected string
	}{
		{"RunStarted", func() { b.PublishRunStarted(runID, 50) }, EventRunStarted},
		{"Log", func() { b.PublishLog(runID, "starting phase 1") }, EventLog},
		{"Progress", func() {
			b.PublishProgress(runID, ProgressPayload{Phase: PhaseOne, ProcessedInPhase1: 1})
		}, EventProgress},
		{"RunCompleted", func() { b.PublishRunCompleted(runID, 50) }, EventRunCompleted},
		{"RunCancelled", func() { b.PublishRunCancelled(runID, "sigterm") }, EventRunCancelled},
		{"RunFailed", func() { b.PublishRunFailed(runID, "store unreachable") }, EventRunFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.publish()
			select {
			case event := <-ch:
				if event.Type != tt.expected {
					t.Errorf("event type = %s, want %s", event.Type, tt.expected)
				}
			case <-time.After(100 * time.Millisecond):
				t.Error("expected event not received")
			}
		})
	}
}

func TestBroadcaster_PublishProgress_PayloadShape(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	runID := "run-123"
	ch := b.Subscribe(runID)

	b.PublishProgress(runID, ProgressPayload{
		Phase:             PhaseTwo,
		ProcessedInPhase1: 40,
		CompletedInPhase1: 35,
		Phase2Queued:      10,
		Phase2Completed:   3,
		Phase2ElapsedMs:   4500,
		ActiveWorkers:     4,
		CurrentProperty:   "prop-9",
	})

	event := <-ch
	if event.Type != EventProgress {
		t.Fatalf("event type = %s, want %s", event.Type, EventProgress)
	}

	want := map[string]interface{}{
		"phase":             PhaseTwo,
		"processedInPhase1": 40,
		"completedInPhase1": 35,
		"phase2Queued":      10,
		"phase2Completed":   3,
		"phase2ElapsedMs":   int64(4500),
		"activeWorkers":     4,
		"currentProperty":   "prop-9",
	}
	for key, wantVal := range want {
		if got := event.Data[key]; got != wantVal {
			t.Errorf("Data[%q] = %v (%T), want %v (%T)", key, got, got, wantVal, wantVal)
		}
	}
}

func TestBroadcaster_PublishProgress_OmitsCurrentPropertyWhenEmpty(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	runID := "run-123"
	ch := b.Subscribe(runID)

	b.PublishProgress(runID, ProgressPayload{Phase: PhaseOne})

	event := <-ch
	if _, present := event.Data["currentProperty"]; present {
		t.Error("currentProperty should be omitted when empty")
	}
}

func TestNewHandler(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	h := NewHandler(b, zap.NewNop())
	if h == nil {
		t.Fatal("NewHandler() returned nil")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	h := NewHandler(b, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/runs/stream?run_id=123", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_MissingRunID(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	h := NewHandler(b, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/runs/stream", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandler_Headers(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	h := NewHandler(b, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/stream?run_id=123", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s, want text/event-stream", ct)
	}
}

func TestHandler_EventFormat(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	h := NewHandler(b, zap.NewNop())
	runID := "run-456"

	server := httptest.NewServer(h)
	defer server.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		b.PublishRunStarted(runID, 10)
		time.Sleep(50 * time.Millisecond)
		b.PublishRunCompleted(runID, 10)
	}()

	resp, err := http.Get(server.URL + "?run_id=" + runID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		}
	}

	if len(events) < 2 {
		t.Fatalf("expected at least 2 events, got %d", len(events))
	}
	if events[0] != EventRunStarted {
		t.Errorf("first event = %s, want %s", events[0], EventRunStarted)
	}
	if events[1] != EventRunCompleted {
		t.Errorf("second event = %s, want %s", events[1], EventRunCompleted)
	}
}

func TestHandler_ClientDisconnect(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	h := NewHandler(b, zap.NewNop())
	runID := "disconnect-test"

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/runs/stream?run_id="+runID, nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("handler did not exit after client disconnect")
	}

	time.Sleep(50 * time.Millisecond)
	if b.HasSubscriber(runID) {
		t.Error("subscription should be cleaned up after disconnect")
	}
}

func TestHandler_TerminalEventsCloseConnection(t *testing.T) {
	for _, publish := range []func(b *Broadcaster, runID string){
		func(b *Broadcaster, runID string) { b.PublishRunCompleted(runID, 1) },
		func(b *Broadcaster, runID string) { b.PublishRunCancelled(runID, "stop") },
		func(b *Broadcaster, runID string) { b.PublishRunFailed(runID, "boom") },
	} {
		b := NewBroadcaster(zap.NewNop())
		h := NewHandler(b, zap.NewNop())
		runID := "terminal-test"

		req := httptest.NewRequest(http.MethodGet, "/api/runs/stream?run_id="+runID, nil)
		w := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			h.ServeHTTP(w, req)
			close(done)
		}()

		time.Sleep(50 * time.Millisecond)
		publish(b, runID)

		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("handler did not exit after terminal event")
		}
	}
}
