package capture

import (
	"testing"
	"time"

	"github.com/user/tagwatch/internal/model"
)

func TestEventBuffer_AddDeduplicatesByURL(t *testing.T) {
	buf := NewEventBuffer()
	now := time.Now()

	first := model.AnalyticsCollect{URL: "https://www.google-analytics.com/g/collect?tid=G-1", Timestamp: now, Source: model.SourceCDP}
	second := model.AnalyticsCollect{URL: "https://www.google-analytics.com/g/collect?tid=G-1#ignored", Timestamp: now.Add(time.Second), Source: model.SourceFetch}

	if added := buf.Add(first); !added {
		t.Fatal("first Add should report added=true")
	}
	if added := buf.Add(second); added {
		t.Fatal("second Add of the same URL modulo fragment should report added=false")
	}

	snap := buf.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot len = %d, want 1", len(snap))
	}
}

func TestEventBuffer_AddKeepsDistinctURLs(t *testing.T) {
	buf := NewEventBuffer()
	now := time.Now()

	buf.Add(model.AnalyticsCollect{URL: "https://www.google-analytics.com/g/collect?tid=G-1", Timestamp: now, Source: model.SourceCDP})
	buf.Add(model.AnalyticsCollect{URL: "https://www.google-analytics.com/g/collect?tid=G-2", Timestamp: now, Source: model.SourceCDP})

	if got := len(buf.Snapshot()); got != 2 {
		t.Fatalf("Snapshot len = %d, want 2", got)
	}
}

func TestEventBuffer_SnapshotIsACopy(t *testing.T) {
	buf := NewEventBuffer()
	buf.Add(model.AnalyticsCollect{URL: "https://www.google-analytics.com/g/collect?tid=G-1", Timestamp: time.Now()})

	snap := buf.Snapshot()
	buf.Add(model.AnalyticsCollect{URL: "https://www.google-analytics.com/g/collect?tid=G-2", Timestamp: time.Now()})

	if len(snap) != 1 {
		t.Fatalf("earlier snapshot mutated: len = %d, want 1", len(snap))
	}
}

func TestExtractFromWindow(t *testing.T) {
	now := time.Now()
	events := ExtractFromWindow(WindowSnapshot{Keys: []string{"GTM-ABCD", "G-EFGH", "dataLayer", "gtm-lowercase"}}, now)

	var sawTagManager, sawAnalytics, sawLowercase bool
	for _, e := range events {
		switch ev := e.(type) {
		case model.TagManagerLoad:
			sawTagManager = true
			if ev.TagManagerID == "gtm-lowercase" {
				sawLowercase = true
			}
			if (ev.TagManagerID != "GTM-ABCD" && ev.TagManagerID != "gtm-lowercase") || ev.Source != model.SourceWindowExtraction {
				t.Errorf("unexpected TagManagerLoad: %+v", ev)
			}
		case model.AnalyticsCollect:
			sawAnalytics = true
			if ev.AnalyticsID != "G-EFGH" || ev.EventName != model.WindowExtractedEventName {
				t.Errorf("unexpected AnalyticsCollect: %+v", ev)
			}
		}
	}
	if !sawTagManager {
		t.Error("expected a TagManagerLoad event from GTM- prefixed key")
	}
	if !sawAnalytics {
		t.Error("expected an AnalyticsCollect event from G- prefixed key")
	}
	if !sawLowercase {
		t.Error("expected a TagManagerLoad event from the gtm-lowercase key")
	}

	// "dataLayer" matches neither prefix; "gtm-lowercase" folds onto the
	// case-insensitive GTM- prefix and produces its own TagManagerLoad, so
	// 3 events come out of the 4 keys.
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3 (gtm-lowercase folds onto GTM- prefix)", len(events))
	}
}

func TestHasPrefixFold(t *testing.T) {
	cases := []struct {
		s, prefix string
		want      bool
	}{
		{"GTM-ABCD", "GTM-", true},
		{"gtm-abcd", "GTM-", true},
		{"G-EFGH", "GTM-", false},
		{"GT", "GTM-", false},
	}
	for _, tc := range cases {
		if got := hasPrefixFold(tc.s, tc.prefix); got != tc.want {
			t.Errorf("hasPrefixFold(%q, %q) = %v, want %v", tc.s, tc.prefix, got, tc.want)
		}
	}
}
