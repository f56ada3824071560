// Package detect implements the pure, side-effect-free Analytics Detection
// Engine: a set of functions over a captured NetworkEvent
// list that answer "which IDs fired" and "does this look like a
// Consent-Mode-Basic implementation" without touching a browser.
package detect

import (
	"strings"

	"github.com/user/tagwatch/internal/model"
)

// AllAnalyticsIDs returns the unique analytics measurement IDs observed, in
// capture order.
func AllAnalyticsIDs(events []model.NetworkEvent) []string {
	seen := map[string]bool{}
	var ids []string
	for _, e := range events {
		ac, ok := e.(model.AnalyticsCollect)
		if !ok || ac.AnalyticsID == "" {
			continue
		}
		if !seen[ac.AnalyticsID] {
			seen[ac.AnalyticsID] = true
			ids = append(ids, ac.AnalyticsID)
		}
	}
	return ids
}

// AllTagManagerIDs returns the unique tag-manager container IDs observed, in
// capture order.
func AllTagManagerIDs(events []model.NetworkEvent) []string {
	seen := map[string]bool{}
	var ids []string
	for _, e := range events {
		tm, ok := e.(model.TagManagerLoad)
		if !ok || tm.TagManagerID == "" {
			continue
		}
		if !seen[tm.TagManagerID] {
			seen[tm.TagManagerID] = true
			ids = append(ids, tm.TagManagerID)
		}
	}
	return ids
}

// IDMatch is the shared shape returned by FindAnalyticsID and
// FindTagManagerID.
type IDMatch struct {
	Found   bool
	AllIDs  []string
	Primary string
}

// FindAnalyticsID reports whether expected is among the observed analytics
// IDs. Comparison is exact (unlike the tag-manager check, which is
// case-insensitive and whitespace-trimmed).
func FindAnalyticsID(events []model.NetworkEvent, expected string) IDMatch {
	ids := AllAnalyticsIDs(events)
	match := IDMatch{AllIDs: ids}
	if len(ids) > 0 {
		match.Primary = ids[0]
	}
	for _, id := range ids {
		if id == expected {
			match.Found = true
			return match
		}
	}
	return match
}

// FindTagManagerID reports whether expected is among the observed
// tag-manager IDs, comparing case-insensitively after trimming whitespace.
func FindTagManagerID(events []model.NetworkEvent, expected string) IDMatch {
	ids := AllTagManagerIDs(events)
	match := IDMatch{AllIDs: ids}
	if len(ids) > 0 {
		match.Primary = ids[0]
	}
	normalizedExpected := normalizeID(expected)
	for _, id := range ids {
		if normalizeID(id) == normalizedExpected {
			match.Found = true
			return match
		}
	}
	return match
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// FindPageView returns the first AnalyticsCollect event whose event name is
// "page_view", if any.
func FindPageView(events []model.NetworkEvent) (model.AnalyticsCollect, bool) {
	for _, e := range events {
		if ac, ok := e.(model.AnalyticsCollect); ok && ac.EventName == model.PageViewEventName {
			return ac, true
		}
	}
	return model.AnalyticsCollect{}, false
}

// ExtractionMetrics summarizes which capture layer surfaced each ID and
// which layer should be considered primary: window if any ID was seen in
// the window layer (with or without network), else network.
func ExtractionMetrics(events []model.NetworkEvent) model.ExtractionMetrics {
	metrics := model.ExtractionMetrics{
		PerID: map[string]map[model.EventSource]bool{},
	}

	for _, e := range events {
		var id string
		var source model.EventSource
		switch ev := e.(type) {
		case model.AnalyticsCollect:
			id, source = ev.AnalyticsID, ev.Source
		case model.TagManagerLoad:
			id, source = ev.TagManagerID, ev.Source
		}
		if id == "" {
			continue
		}

		if metrics.PerID[id] == nil {
			metrics.PerID[id] = map[model.EventSource]bool{}
		}
		metrics.PerID[id][source] = true

		if source == model.SourceWindowExtraction {
			metrics.WindowCount++
		} else {
			metrics.NetworkCount++
		}
	}

	metrics.PrimarySource = model.SourcePrimaryNetwork
	for _, sources := range metrics.PerID {
		if sources[model.SourceWindowExtraction] {
			metrics.PrimarySource = model.SourcePrimaryWindow
			break
		}
	}

	return metrics
}
