package capture

import (
	"context"
	"strings"
	"time"

	"github.com/user/tagwatch/internal/model"
)

// pollInterval is the tick rate for both wait loops.
const pollInterval = 500 * time.Millisecond

// lateAttachWindow is the extra wait after the first tag-manager success,
// during which late-attached analytics containers are surfaced.
const lateAttachWindow = 2000 * time.Millisecond

// TagManagerWaitResult is the outcome of waitForTagManager.
type TagManagerWaitResult struct {
	Found    bool
	TimedOut bool
	Primary  string
	AllIDs   []string
}

// WaitForTagManager polls the page until any tag-manager ID is detected —
// and, when expected is non-empty, matches it case-insensitively after
// trimming — then waits an additional lateAttachWindow and re-reads the
// window to surface late-attached analytics containers.
func (c *Collector) WaitForTagManager(ctx context.Context, expected string, deadline time.Duration) TagManagerWaitResult {
	end := time.Now().Add(deadline)
	expected = strings.ToLower(strings.TrimSpace(expected))

	for {
		c.ExtractWindowSnapshot(ctx)
		c.DrainPageBuffer(ctx)

		ids := tagManagerIDs(c.buffer.Snapshot())
		if matched, primary := tagManagerMatch(ids, expected); matched {
			select {
			case <-time.After(lateAttachWindow):
			case <-ctx.Done():
			}
			c.ExtractWindowSnapshot(ctx)
			return TagManagerWaitResult{Found: true, Primary: primary, AllIDs: tagManagerIDs(c.buffer.Snapshot())}
		}

		if time.Now().After(end) {
			return TagManagerWaitResult{TimedOut: true, AllIDs: ids}
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return TagManagerWaitResult{TimedOut: true, AllIDs: ids}
		}
	}
}

func tagManagerIDs(events []model.NetworkEvent) []string {
	seen := map[string]bool{}
	var ids []string
	for _, e := range events {
		if tm, ok := e.(model.TagManagerLoad); ok && tm.TagManagerID != "" && !seen[tm.TagManagerID] {
			seen[tm.TagManagerID] = true
			ids = append(ids, tm.TagManagerID)
		}
	}
	return ids
}

func tagManagerMatch(ids []string, expected string) (bool, string) {
	if len(ids) == 0 {
		return false, ""
	}
	if expected == "" {
		return true, ids[0]
	}
	for _, id := range ids {
		if strings.EqualFold(strings.TrimSpace(id), expected) {
			return true, id
		}
	}
	return false, ""
}

// AnalyticsWaitResult is the outcome of waitForAnalyticsEvents.
type AnalyticsWaitResult struct {
	TimedOut     bool
	ExpectedSeen bool
	Events       []model.NetworkEvent
}

// WaitForAnalyticsEvents polls every pollInterval, draining the page-script
// buffer each tick. It tracks the moment a page_view event first appears.
// After that moment, if expectedAnalyticsID is already among the observed
// IDs it exits immediately; otherwise it keeps polling until the expected
// ID appears or maxTailMs elapses since the page_view, whichever comes
// first. If the deadline elapses before any page_view, it exits with
// TimedOut=true.
func (c *Collector) WaitForAnalyticsEvents(ctx context.Context, expectedAnalyticsID string, deadline time.Duration, maxTail time.Duration) AnalyticsWaitResult {
	end := time.Now().Add(deadline)
	var pageViewAt time.Time

	for {
		c.DrainPageBuffer(ctx)
		c.ExtractWindowSnapshot(ctx)

		events := c.buffer.Snapshot()

		if pageViewAt.IsZero() {
			if at, ok := firstPageViewAt(events); ok {
				pageViewAt = at
			}
		}

		if !pageViewAt.IsZero() {
			if expectedAnalyticsID != "" && idObserved(events, expectedAnalyticsID) {
				return AnalyticsWaitResult{ExpectedSeen: true, Events: events}
			}
			if time.Since(pageViewAt) >= maxTail {
				return AnalyticsWaitResult{ExpectedSeen: false, Events: events}
			}
		}

		if time.Now().After(end) {
			return AnalyticsWaitResult{TimedOut: pageViewAt.IsZero(), Events: events}
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return AnalyticsWaitResult{TimedOut: pageViewAt.IsZero(), Events: events}
		}
	}
}

func firstPageViewAt(events []model.NetworkEvent) (time.Time, bool) {
	for _, e := range events {
		if ac, ok := e.(model.AnalyticsCollect); ok && ac.EventName == model.PageViewEventName {
			return ac.Timestamp, true
		}
	}
	return time.Time{}, false
}

func idObserved(events []model.NetworkEvent, id string) bool {
	for _, e := range events {
		if ac, ok := e.(model.AnalyticsCollect); ok && ac.AnalyticsID == id {
			return true
		}
	}
	return false
}
