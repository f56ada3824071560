package capture

import (
	"sync"
	"time"

	"github.com/user/tagwatch/internal/model"
)

// EventBuffer is the append-only, deduplicated list owned by exactly one
// session. An event is a duplicate iff an existing event has
// the same URL; the layer of origin does not affect identity.
type EventBuffer struct {
	mu     sync.Mutex
	events []model.NetworkEvent
}

// NewEventBuffer creates an empty buffer.
func NewEventBuffer() *EventBuffer {
	return &EventBuffer{}
}

// Add appends event unless a same-URL event is already present. Returns
// true if the event was newly added.
func (b *EventBuffer) Add(event model.NetworkEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.events {
		if urlsMatchIgnoringFragment(existing.EventURL(), event.EventURL()) {
			return false
		}
	}
	b.events = append(b.events, event)
	return true
}

// Snapshot returns a copy of the buffer's contents in capture order.
func (b *EventBuffer) Snapshot() []model.NetworkEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.NetworkEvent, len(b.events))
	copy(out, b.events)
	return out
}

// tagManagerIDPrefix and analyticsIDPrefix identify container/measurement
// keys on window.google_tag_manager.
const (
	tagManagerIDPrefix = "GTM-"
	analyticsIDPrefix  = "G-"
)

// WindowSnapshot is the raw shape read back from window.google_tag_manager:
// a set of top-level keys, some of which are tag-manager container IDs and
// some of which are analytics measurement IDs.
type WindowSnapshot struct {
	Keys []string
}

// ExtractFromWindow turns a WindowSnapshot into synthetic NetworkEvents: one
// TagManagerLoad per key with the tag-manager prefix, one AnalyticsCollect
// (sentinel event name model.WindowExtractedEventName) per key with the
// analytics prefix. This is the only path that surfaces analytics IDs once
// consent has suppressed network traffic.
func ExtractFromWindow(snap WindowSnapshot, at time.Time) []model.NetworkEvent {
	var events []model.NetworkEvent
	for _, key := range snap.Keys {
		switch {
		case hasPrefixFold(key, tagManagerIDPrefix):
			events = append(events, model.TagManagerLoad{
				URL:          "window:" + key,
				Timestamp:    at,
				TagManagerID: key,
				Source:       model.SourceWindowExtraction,
			})
		case hasPrefixFold(key, analyticsIDPrefix):
			events = append(events, model.AnalyticsCollect{
				URL:          "window:" + key,
				Timestamp:    at,
				AnalyticsID:  key,
				EventName:    model.WindowExtractedEventName,
				CustomParams: map[string]string{},
				Source:       model.SourceWindowExtraction,
			})
		}
	}
	return events
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'a' <= a && a <= 'z' {
			a -= 'a' - 'A'
		}
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}
