// Package progress implements the Progress Broadcast: an
// out-of-band event channel describing a run's lifecycle and phase
// progress to external collaborators, such as the out-of-scope dashboard.
// It generalizes the teacher's per-request internal/server/sse.go
// SSEManager (one channel keyed by request_id) into a per-run Broadcaster
// (one channel keyed by run ID), since a run outlives any single HTTP
// request and may have zero or many subscribers over its lifetime.
package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Event types.
const (
	EventRunStarted   = "run_started"
	EventLog          = "log"
	EventProgress     = "progress"
	EventRunCompleted = "run_completed"
	EventRunCancelled = "run_cancelled"
	EventRunFailed    = "run_failed"
)

// channelBuffer bounds how far a slow subscriber can fall behind before
// progress events for it start being dropped.
const channelBuffer = 32

// Event is a single broadcast event for a run.
type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Phase names reported in the "phase" field of a progress payload.
const (
	PhaseOne = "phase1"
	PhaseTwo = "phase2"
)

// ProgressPayload is the shape of the "progress" event's Data,
// decoded back out as a typed struct for direct construction by the
// scheduler rather than hand-assembling map literals at every call site.
type ProgressPayload struct {
	Phase             string `json:"phase"`
	ProcessedInPhase1 int    `json:"processedInPhase1"`
	CompletedInPhase1 int    `json:"completedInPhase1"`
	Phase2Queued      int    `json:"phase2Queued"`
	Phase2Completed   int    `json:"phase2Completed"`
	Phase2ElapsedMs   int64  `json:"phase2ElapsedMs"`
	ActiveWorkers     int    `json:"activeWorkers"`
	CurrentProperty   string `json:"currentProperty,omitempty"`
}

func (p ProgressPayload) toData() map[string]interface{} {
	data := map[string]interface{}{
		"phase":             p.Phase,
		"processedInPhase1": p.ProcessedInPhase1,
		"completedInPhase1": p.CompletedInPhase1,
		"phase2Queued":      p.Phase2Queued,
		"phase2Completed":   p.Phase2Completed,
		"phase2ElapsedMs":   p.Phase2ElapsedMs,
		"activeWorkers":     p.ActiveWorkers,
	}
	if p.CurrentProperty != "" {
		data["currentProperty"] = p.CurrentProperty
	}
	return data
}

// Broadcaster manages progress subscriptions, one channel per run ID.
type Broadcaster struct {
	channels map[string]chan Event
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		channels: make(map[string]chan Event),
		logger:   logger,
	}
}

// Subscribe creates a subscription for the given run ID. A pre-existing
// subscription for the same run is closed first, so only the most recent
// subscriber receives events — matching the teacher's resubscribe
// behavior in SSEManager.Subscribe.
func (b *Broadcaster) Subscribe(runID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.channels[runID]; exists {
		close(ch)
	}

	ch := make(chan Event, channelBuffer)
	b.channels[runID] = ch

	b.logger.Debug("progress subscription created", zap.String("run_id", runID))
	return ch
}

// Unsubscribe removes and closes the subscription for the given run ID.
func (b *Broadcaster) Unsubscribe(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.channels[runID]; exists {
		close(ch)
		delete(b.channels, runID)
		b.logger.Debug("progress subscription removed", zap.String("run_id", runID))
	}
}

// HasSubscriber reports whether an active subscriber exists for the run.
func (b *Broadcaster) HasSubscriber(runID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.channels[runID]
	return exists
}

// Publish sends an event to the run's subscriber, if any. Publish never
// blocks: a full channel drops the event rather than stalling the
// scheduler that's reporting progress.
func (b *Broadcaster) Publish(runID string, event Event) {
	b.mu.RLock()
	ch, exists := b.channels[runID]
	b.mu.RUnlock()

	if !exists {
		return
	}

	select {
	case ch <- event:
		b.logger.Debug("progress event published", zap.String("run_id", runID), zap.String("event_type", event.Type))
	default:
		b.logger.Warn("progress channel full, dropping event", zap.String("run_id", runID), zap.String("event_type", event.Type))
	}
}

// PublishRunStarted publishes a run_started event.
func (b *Broadcaster) PublishRunStarted(runID string, propertyCount int) {
	b.Publish(runID, Event{
		Type: EventRunStarted,
		Data: map[string]interface{}{"property_count": propertyCount},
	})
}

// PublishLog publishes a log event carrying a single free-form message.
func (b *Broadcaster) PublishLog(runID, message string) {
	b.Publish(runID, Event{
		Type: EventLog,
		Data: map[string]interface{}{"message": message},
	})
}

// PublishProgress publishes a progress event with the standard
// ProgressPayload shape.
func (b *Broadcaster) PublishProgress(runID string, payload ProgressPayload) {
	b.Publish(runID, Event{Type: EventProgress, Data: payload.toData()})
}

// PublishRunCompleted publishes a run_completed event.
func (b *Broadcaster) PublishRunCompleted(runID string, verdictCount int) {
	b.Publish(runID, Event{
		Type: EventRunCompleted,
		Data: map[string]interface{}{"verdict_count": verdictCount},
	})
}

// PublishRunCancelled publishes a run_cancelled event.
func (b *Broadcaster) PublishRunCancelled(runID, reason string) {
	b.Publish(runID, Event{
		Type: EventRunCancelled,
		Data: map[string]interface{}{"reason": reason},
	})
}

// PublishRunFailed publishes a run_failed event.
func (b *Broadcaster) PublishRunFailed(runID, reason string) {
	b.Publish(runID, Event{
		Type: EventRunFailed,
		Data: map[string]interface{}{"reason": reason},
	})
}

// terminalEvent reports whether an event type ends a run's event stream.
func terminalEvent(eventType string) bool {
	return eventType == EventRunCompleted || eventType == EventRunCancelled || eventType == EventRunFailed
}

// Handler serves progress events for a run over text/event-stream, the
// same framing the teacher's SSEHandler uses.
type Handler struct {
	broadcaster *Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(broadcaster *Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{broadcaster: broadcaster, logger: logger}
}

// ServeHTTP handles GET /api/runs/stream?run_id=... requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id query parameter is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events := h.broadcaster.Subscribe(runID)
	defer h.broadcaster.Unsubscribe(runID)

	h.logger.Debug("progress connection established", zap.String("run_id", runID))

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("progress client disconnected", zap.String("run_id", runID))
			return

		case event, ok := <-events:
			if !ok {
				return
			}

			if err := h.writeEvent(w, event); err != nil {
				h.logger.Error("failed to write progress event", zap.String("run_id", runID), zap.Error(err))
				return
			}
			flusher.Flush()

			if terminalEvent(event.Type) {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
	return err
}
